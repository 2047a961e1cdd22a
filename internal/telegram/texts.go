package telegram

import tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

// UI texts
const (
	startText = "Привет! Я присылаю прогноз погоды на неделю.\n\n" +
		"Напишите название города, чтобы получить прогноз прямо сейчас.\n" +
		"Ежедневная рассылка:\n" +
		"/city <город> - выбрать город\n" +
		"/time ЧЧ:ММ - время рассылки по местному времени города\n" +
		"/on, /off - включить или выключить рассылку\n" +
		"/status - текущие настройки\n" +
		"/history - последние запросы\n" +
		"/fav <город>, /unfav <город>, /favorites - избранные города\n" +
		"/unsubscribe - удалить подписку"
	askCityText        = "Напишите название города."
	askTimeText        = "Во сколько присылать прогноз? Формат ЧЧ:ММ, например 08:00."
	cityNotFoundText   = "Город не найден. Проверьте название и попробуйте ещё раз."
	upstreamText       = "Сервис погоды сейчас недоступен. Попробуйте позже."
	internalErrText    = "Что-то пошло не так. Попробуйте позже."
	noCityText         = "Сначала выберите город: /city <город>"
	badTimeText        = "Не понял время. Используйте формат ЧЧ:ММ, например 07:30."
	noSubscriptionText = "Подписки нет. Выберите город: /city <город>"
	unsubscribedText   = "Подписка удалена."
	emptyHistoryText   = "История запросов пуста."
	loadingFmt         = "Загружаю прогноз для %s..."
	citySetFmt         = "Город: %s (%s). Прогноз будет приходить в %s по местному времени."
	timeSetFmt         = "Готово. Прогноз будет приходить в %s по местному времени."
	enabledText        = "Рассылка включена."
	disabledText       = "Рассылка выключена."
	statusFmt          = "Ваши настройки:\n• Город: %s\n• Время: %s (UTC %s)\n• Рассылка: %s\n• Последняя отправка: %s\n"
	statsFmt           = "Подписок: %d (активных: %d)\nЗапросов в истории: %d\n"
	adminOnlyText      = "Команда доступна только администратору."
	askFavText         = "Какой город добавить в избранное?"
	favAddedFmt        = "%s добавлен в избранное."
	favExistsFmt       = "%s уже в избранном."
	favRemovedText     = "Город удалён из избранного."
	favMissingText     = "Такого города нет в избранном."
	favLimitText       = "В избранном уже максимум городов. Удалите один: /unfav <город>"
	emptyFavoritesText = "Избранных городов пока нет. Добавьте: /fav <город>"
)

func mainMenuKeyboard(enabled bool) tgbotapi.ReplyKeyboardMarkup {
	toggle := "/off"
	if !enabled {
		toggle = "/on"
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/history"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/time"),
			tgbotapi.NewKeyboardButton(toggle),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/favorites"),
		),
	)
}

// favoritesKeyboard lays out city names two per row.
func favoritesKeyboard(names []string) tgbotapi.ReplyKeyboardMarkup {
	var rows [][]tgbotapi.KeyboardButton
	for i := 0; i < len(names); i += 2 {
		row := []tgbotapi.KeyboardButton{tgbotapi.NewKeyboardButton(names[i])}
		if i+1 < len(names) {
			row = append(row, tgbotapi.NewKeyboardButton(names[i+1]))
		}
		rows = append(rows, row)
	}
	rows = append(rows, tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton("/start")))
	return tgbotapi.NewReplyKeyboard(rows...)
}
