package render

import (
	"fmt"
	"strings"
	"time"

	"github.com/i474232898/weather-forecast-bot/internal/weather"
)

var weekdays = [...]string{"ВС", "ПН", "ВТ", "СР", "ЧТ", "ПТ", "СБ"}

var conditionLabels = map[weather.Condition]string{
	weather.ConditionClear:  "ясно",
	weather.ConditionCloudy: "облачно",
	weather.ConditionRain:   "дождь",
	weather.ConditionSnow:   "снег",
	weather.ConditionStorm:  "гроза",
	weather.ConditionMist:   "туман",
}

const separator = "──────────────────────"

// ConditionLabel returns a short human label for c.
func ConditionLabel(c weather.Condition) string {
	if l, ok := conditionLabels[c]; ok {
		return l
	}
	return "без описания"
}

// Forecast renders a multi-day forecast as plain text.
func Forecast(f weather.Forecast) string {
	city := f.Location.Name
	if city == "" {
		city = f.Location.Key
	}
	if len(f.Days) == 0 {
		return fmt.Sprintf("Нет данных о погоде для %s.", city)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Прогноз погоды: %s\n", city)
	fmt.Fprintf(&b, "На %d дн. (обновлено %s)\n", len(f.Days), updatedAt(f))
	b.WriteString(separator + "\n")

	for i, d := range f.Days {
		b.WriteString(Day(d))
		if i < len(f.Days)-1 {
			b.WriteString(separator + "\n")
		}
	}

	s := weather.Summarize(f.Days)
	b.WriteString(separator + "\n")
	fmt.Fprintf(&b, "Итого: %.0f°C ... %.0f°C, в основном %s", s.MinTempC, s.MaxTempC, ConditionLabel(s.Condition))
	if s.RainyDays > 0 {
		fmt.Fprintf(&b, ", дней с осадками: %d", s.RainyDays)
	}
	return b.String()
}

// Day renders one forecast day.
func Day(d weather.DailyForecast) string {
	var b strings.Builder

	head := d.Date
	if t, err := time.Parse(time.DateOnly, d.Date); err == nil {
		head = fmt.Sprintf("%s %s", weekdays[t.Weekday()], t.Format("02.01"))
	}
	fmt.Fprintf(&b, "%s: %s\n", head, ConditionLabel(d.Condition))
	fmt.Fprintf(&b, "   Температура: %.0f°C ... %.0f°C\n", d.TempMinC, d.TempMaxC)
	if d.PrecipMM > 0 {
		fmt.Fprintf(&b, "   Осадки: %.1f мм\n", d.PrecipMM)
	}
	fmt.Fprintf(&b, "   Ветер: %.1f м/с\n", d.WindSpeedMS)
	fmt.Fprintf(&b, "   Влажность: %.0f%%\n", d.HumidityPct)
	return b.String()
}

func updatedAt(f weather.Forecast) string {
	t := f.FetchedAt
	if t.IsZero() {
		t = time.Now()
	}
	tz := f.Location.Timezone
	if tz == "" {
		tz = f.Timezone
	}
	if loc, err := time.LoadLocation(tz); err == nil && tz != "" {
		t = t.In(loc)
	}
	return t.Format("02.01.2006 15:04")
}
