package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/favorites"
	"github.com/i474232898/weather-forecast-bot/internal/render"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/subscription"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// --- Generic helpers ---

func (r *Router) sendText(chatID int64, text string) {
	if _, err := r.bot.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		r.log.Warn("send failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

func (r *Router) sendWithMenu(chatID int64, text string, enabled bool) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = mainMenuKeyboard(enabled)
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}

// userError maps a service error to the text shown to the user.
func (r *Router) userError(chatID int64, op string, err error) string {
	switch {
	case errors.Is(err, weather.ErrCityNotFound):
		return cityNotFoundText
	case errors.Is(err, subscription.ErrNoCity), errors.Is(err, store.ErrNotFound):
		return noCityText
	case errors.Is(err, domain.ErrInvalidClock):
		return badTimeText
	case errors.Is(err, favorites.ErrLimitReached):
		return favLimitText
	case errors.Is(err, weather.ErrUpstreamTransport):
		r.log.Warn(op+" failed", zap.Int64("chatID", chatID), zap.Error(err))
		return upstreamText
	default:
		r.log.Error(op+" failed", zap.Int64("chatID", chatID), zap.Error(err))
		return internalErrText
	}
}

// --- Commands ---

func (r *Router) handleStart(ctx context.Context, chatID int64) {
	enabled := true
	if sub, err := r.subs.Get(ctx, chatID); err == nil {
		enabled = sub.Enabled
	}
	r.sendWithMenu(chatID, startText, enabled)
}

func (r *Router) handleLookup(ctx context.Context, chatID int64, query string) {
	r.sendText(chatID, fmt.Sprintf(loadingFmt, query))

	f, err := r.forecasts.Lookup(ctx, chatID, query)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "lookup", err))
		return
	}
	r.sendText(chatID, render.Forecast(f))
}

func (r *Router) handleSetCity(ctx context.Context, chatID int64, query string) {
	sub, loc, err := r.subs.SetCity(ctx, chatID, query)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "set city", err))
		return
	}
	r.sendWithMenu(chatID, fmt.Sprintf(citySetFmt, loc.Name, loc.Timezone, sub.LocalTime), sub.Enabled)
}

func (r *Router) handleSetTime(ctx context.Context, chatID int64, value string) {
	sub, err := r.subs.SetLocalTime(ctx, chatID, value)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "set time", err))
		return
	}
	r.sendWithMenu(chatID, fmt.Sprintf(timeSetFmt, sub.LocalTime), sub.Enabled)
}

func (r *Router) handleSetEnabled(ctx context.Context, chatID int64, enabled bool) {
	sub, err := r.subs.SetEnabled(ctx, chatID, enabled)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "toggle", err))
		return
	}
	text := enabledText
	if !sub.Enabled {
		text = disabledText
	}
	r.sendWithMenu(chatID, text, sub.Enabled)
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	sub, err := r.subs.Get(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, noSubscriptionText)
		return
	}
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "status", err))
		return
	}

	state := "включена"
	if !sub.Enabled {
		state = "выключена"
	}
	last := "—"
	if sub.LastFiredDate != nil {
		last = sub.LastFiredDate.Format("02.01.2006")
	}
	body := fmt.Sprintf(statusFmt, sub.City, sub.LocalTime, sub.TriggerUTC, state, last)
	r.sendWithMenu(chatID, body, sub.Enabled)
}

func (r *Router) handleUnsubscribe(ctx context.Context, chatID int64) {
	err := r.subs.Delete(ctx, chatID)
	if errors.Is(err, store.ErrNotFound) {
		r.sendText(chatID, noSubscriptionText)
		return
	}
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "unsubscribe", err))
		return
	}
	r.sendText(chatID, unsubscribedText)
}

func (r *Router) handleHistory(ctx context.Context, chatID int64) {
	items, err := r.history.History(ctx, chatID, r.historyLimit)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "history", err))
		return
	}
	if len(items) == 0 {
		r.sendText(chatID, emptyHistoryText)
		return
	}

	var b strings.Builder
	b.WriteString("Последние запросы:\n")
	for i, l := range items {
		fmt.Fprintf(&b, "%d. %s - %s UTC\n", i+1, l.City, l.At.Format("02.01 15:04"))
	}
	r.sendText(chatID, b.String())
}

func (r *Router) handleStats(ctx context.Context, chatID int64) {
	st, err := r.history.Stats(ctx)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "stats", err))
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, statsFmt, st.Subscriptions, st.Enabled, st.Lookups)
	for i, c := range st.TopCities {
		fmt.Fprintf(&b, "%d. %s - %d\n", i+1, c.City, c.Count)
	}
	r.sendText(chatID, b.String())
}

func (r *Router) handleAddFavorite(ctx context.Context, chatID int64, query string) {
	f, added, err := r.favorites.Add(ctx, chatID, query)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "add favorite", err))
		return
	}
	if !added {
		r.sendText(chatID, fmt.Sprintf(favExistsFmt, f.Name))
		return
	}
	r.sendText(chatID, fmt.Sprintf(favAddedFmt, f.Name))
}

func (r *Router) handleRemoveFavorite(ctx context.Context, chatID int64, query string) {
	removed, err := r.favorites.Remove(ctx, chatID, query)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "remove favorite", err))
		return
	}
	if !removed {
		r.sendText(chatID, favMissingText)
		return
	}
	r.sendText(chatID, favRemovedText)
}

// handleFavorites lists favorites with a keyboard of their names; pressing
// one sends the name as free text, which is a lookup.
func (r *Router) handleFavorites(ctx context.Context, chatID int64) {
	favs, err := r.favorites.List(ctx, chatID)
	if err != nil {
		r.sendText(chatID, r.userError(chatID, "favorites", err))
		return
	}
	if len(favs) == 0 {
		r.sendText(chatID, emptyFavoritesText)
		return
	}

	var b strings.Builder
	b.WriteString("Избранные города:\n")
	names := make([]string, 0, len(favs))
	for i, f := range favs {
		fmt.Fprintf(&b, "%d. %s\n", i+1, f.Name)
		names = append(names, f.Name)
	}
	b.WriteString("\nУдалить: /unfav <город>")

	msg := tgbotapi.NewMessage(chatID, b.String())
	msg.ReplyMarkup = favoritesKeyboard(names)
	if _, err := r.bot.Send(msg); err != nil {
		r.log.Warn("send failed", zap.Int64("chatID", chatID), zap.Error(err))
	}
}
