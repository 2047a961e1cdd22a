package telegram

import (
	"context"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/i474232898/weather-forecast-bot/internal/domain"
	"github.com/i474232898/weather-forecast-bot/internal/store"
	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

// Pending state keys used in conversational flows.
const (
	pendingCity = "await_city_text"
	pendingTime = "await_time_text"
	pendingFav  = "await_fav_text"
)

// Bot is the part of *tgbotapi.BotAPI the router uses.
type Bot interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Forecasts serves interactive lookups.
type Forecasts interface {
	Lookup(ctx context.Context, userID int64, query string) (weather.Forecast, error)
}

// Subscriptions manages daily delivery settings.
type Subscriptions interface {
	Get(ctx context.Context, userID int64) (domain.Subscription, error)
	SetCity(ctx context.Context, userID int64, query string) (domain.Subscription, weather.Location, error)
	SetLocalTime(ctx context.Context, userID int64, localTime string) (domain.Subscription, error)
	SetEnabled(ctx context.Context, userID int64, enabled bool) (domain.Subscription, error)
	Delete(ctx context.Context, userID int64) error
}

// Favorites manages favorite cities.
type Favorites interface {
	Add(ctx context.Context, userID int64, query string) (store.Favorite, bool, error)
	Remove(ctx context.Context, userID int64, query string) (bool, error)
	List(ctx context.Context, userID int64) ([]store.Favorite, error)
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot          Bot
	log          *zap.Logger
	forecasts    Forecasts
	subs         Subscriptions
	favorites    Favorites
	history      store.HistoryRepo
	historyLimit int
	adminChatID  int64

	mu    sync.RWMutex
	state map[int64]string // chatID -> pending state

	// updates of one chat are handled in arrival order
	queueMu sync.Mutex
	queues  map[int64]*chatQueue

	wg sync.WaitGroup
}

type chatQueue struct {
	pending []tgbotapi.Update
}

// NewRouter creates a new Telegram router.
func NewRouter(bot Bot, log *zap.Logger, forecasts Forecasts, subs Subscriptions, favorites Favorites, history store.HistoryRepo, historyLimit int) *Router {
	return &Router{
		bot:          bot,
		log:          log.Named("telegram"),
		forecasts:    forecasts,
		subs:         subs,
		favorites:    favorites,
		history:      history,
		historyLimit: historyLimit,
		state:        make(map[int64]string),
		queues:       make(map[int64]*chatQueue),
	}
}

// SetAdmin allows chatID to use admin commands. Zero allows nobody.
func (r *Router) SetAdmin(chatID int64) {
	r.adminChatID = chatID
}

func (r *Router) isAdmin(chatID int64) bool {
	return r.adminChatID != 0 && chatID == r.adminChatID
}

func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

// takePending returns and clears the pending state of a chat.
func (r *Router) takePending(chatID int64) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.state[chatID]
	delete(r.state, chatID)
	return s
}

// Run consumes updates until ctx is done or the channel closes. Chats are
// handled concurrently so a slow lookup never blocks others, while the
// updates of a single chat are handled one at a time in arrival order.
func (r *Router) Run(ctx context.Context, updates <-chan tgbotapi.Update) {
	defer r.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			return
		case upd, ok := <-updates:
			if !ok {
				return
			}
			r.enqueue(ctx, upd)
		}
	}
}

func (r *Router) enqueue(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil || upd.Message.Chat == nil {
		return
	}
	chatID := upd.Message.Chat.ID

	r.queueMu.Lock()
	q, running := r.queues[chatID]
	if !running {
		q = &chatQueue{}
		r.queues[chatID] = q
	}
	q.pending = append(q.pending, upd)
	r.queueMu.Unlock()

	if !running {
		r.wg.Add(1)
		go r.drain(ctx, chatID, q)
	}
}

// drain handles queued updates of one chat until the queue is empty.
func (r *Router) drain(ctx context.Context, chatID int64, q *chatQueue) {
	defer r.wg.Done()
	for {
		r.queueMu.Lock()
		if len(q.pending) == 0 {
			delete(r.queues, chatID)
			r.queueMu.Unlock()
			return
		}
		upd := q.pending[0]
		q.pending = q.pending[1:]
		r.queueMu.Unlock()

		r.HandleUpdate(ctx, upd)
	}
}

// HandleUpdate routes a single update to the appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message == nil {
		return
	}
	msg := upd.Message
	chatID := msg.Chat.ID
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsCommand() {
		r.takePending(chatID)
		args := strings.TrimSpace(msg.CommandArguments())

		switch msg.Command() {
		case "start", "help":
			r.handleStart(ctx, chatID)
		case "weather":
			if args == "" {
				// The next plain message is a lookup anyway.
				r.sendText(chatID, askCityText)
				return
			}
			r.handleLookup(ctx, chatID, args)
		case "city":
			if args == "" {
				r.setPending(chatID, pendingCity)
				r.sendText(chatID, askCityText)
				return
			}
			r.handleSetCity(ctx, chatID, args)
		case "time":
			if args == "" {
				r.setPending(chatID, pendingTime)
				r.sendText(chatID, askTimeText)
				return
			}
			r.handleSetTime(ctx, chatID, args)
		case "on":
			r.handleSetEnabled(ctx, chatID, true)
		case "off":
			r.handleSetEnabled(ctx, chatID, false)
		case "status":
			r.handleStatus(ctx, chatID)
		case "unsubscribe":
			r.handleUnsubscribe(ctx, chatID)
		case "history":
			r.handleHistory(ctx, chatID)
		case "stats":
			if !r.isAdmin(chatID) {
				r.sendText(chatID, adminOnlyText)
				return
			}
			r.handleStats(ctx, chatID)
		case "fav":
			if args == "" {
				r.setPending(chatID, pendingFav)
				r.sendText(chatID, askFavText)
				return
			}
			r.handleAddFavorite(ctx, chatID, args)
		case "unfav":
			if args == "" {
				r.handleFavorites(ctx, chatID)
				return
			}
			r.handleRemoveFavorite(ctx, chatID, args)
		case "favorites":
			r.handleFavorites(ctx, chatID)
		default:
			r.handleStart(ctx, chatID)
		}
		return
	}

	switch r.takePending(chatID) {
	case pendingCity:
		r.handleSetCity(ctx, chatID, text)
	case pendingTime:
		r.handleSetTime(ctx, chatID, text)
	case pendingFav:
		r.handleAddFavorite(ctx, chatID, text)
	default:
		// Free text is a city lookup.
		r.handleLookup(ctx, chatID, text)
	}
}

// Send delivers a scheduled forecast. It makes Router satisfy scheduler.Sender.
func (r *Router) Send(_ context.Context, userID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(userID, text))
	return err
}
