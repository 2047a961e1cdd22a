package weather

// Summary condenses a multi-day forecast into a headline.
type Summary struct {
	Days        int
	MinTempC    float64
	MaxTempC    float64
	TotalPrecip float64
	MaxWindMS   float64
	AvgHumidity float64
	RainyDays   int
	Condition   Condition // majority condition across days
}

// Summarize aggregates daily entries into a Summary.
// Numeric extremes are taken across days, humidity is averaged and the
// condition is selected by majority (first seen wins a tie).
func Summarize(days []DailyForecast) Summary {
	if len(days) == 0 {
		return Summary{Condition: ConditionUnknown}
	}

	s := Summary{
		Days:     len(days),
		MinTempC: days[0].TempMinC,
		MaxTempC: days[0].TempMaxC,
	}

	var sumHumidity float64
	conditionCounts := make(map[Condition]int)
	order := make([]Condition, 0, len(days))

	for _, d := range days {
		if d.TempMinC < s.MinTempC {
			s.MinTempC = d.TempMinC
		}
		if d.TempMaxC > s.MaxTempC {
			s.MaxTempC = d.TempMaxC
		}
		if d.WindSpeedMS > s.MaxWindMS {
			s.MaxWindMS = d.WindSpeedMS
		}
		s.TotalPrecip += d.PrecipMM
		sumHumidity += d.HumidityPct
		if d.PrecipMM > 0 {
			s.RainyDays++
		}

		if _, seen := conditionCounts[d.Condition]; !seen {
			order = append(order, d.Condition)
		}
		conditionCounts[d.Condition]++
	}

	s.AvgHumidity = sumHumidity / float64(len(days))

	// Pick majority condition.
	bestCond := ConditionUnknown
	bestCount := 0
	for _, cond := range order {
		if count := conditionCounts[cond]; count > bestCount {
			bestCount = count
			bestCond = cond
		}
	}
	s.Condition = bestCond

	return s
}

// ConditionFromWMO maps a WMO weather interpretation code (as used by
// Open-Meteo) to a Condition.
func ConditionFromWMO(code int) Condition {
	switch {
	case code == 0:
		return ConditionClear
	case code >= 1 && code <= 3:
		return ConditionCloudy
	case code == 45 || code == 48:
		return ConditionMist
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 82):
		return ConditionRain
	case (code >= 71 && code <= 77) || code == 85 || code == 86:
		return ConditionSnow
	case code >= 95:
		return ConditionStorm
	default:
		return ConditionUnknown
	}
}
