// ABOUTME: Weather card rendering for the agent's render-only get_weather tool
// ABOUTME: Reads fields from the tool result as given; missing fields render blank

package shell

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strconv"
)

// WeatherCard is the display data of one weather result.
type WeatherCard struct {
	ThemeColor  string
	Location    string
	Temperature string
	Condition   string
	Humidity    string
	WindSpeed   string
	Date        string
}

// NewWeatherCard extracts display fields from a tool result. The result may
// be a JSON object or a JSON string holding one. Nothing is validated.
func NewWeatherCard(location string, result json.RawMessage, themeColor string) WeatherCard {
	card := WeatherCard{ThemeColor: themeColor, Location: location}

	fields := decodeResultObject(result)
	if fields == nil {
		return card
	}

	card.Temperature = displayValue(fields["temperature"])
	card.Condition = displayValue(fields["condition"])
	card.Humidity = displayValue(fields["humidity"])
	if wind, ok := fields["wind"].(map[string]any); ok {
		card.WindSpeed = displayValue(wind["speed"])
	}
	card.Date = firstRunes(displayValue(fields["updated_at"]), 10)
	return card
}

// RenderWeather is the render function of the get_weather action.
func (r *Renderer) RenderWeather(props RenderProps) (template.HTML, error) {
	location, _ := props.Args["location"].(string)
	return r.execute("weather_status", struct {
		Status string
		Card   WeatherCard
	}{
		Status: props.Status,
		Card:   NewWeatherCard(location, props.Result, r.themeColor),
	})
}

func decodeResultObject(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	if s, ok := v.(string); ok {
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return nil
		}
	}
	obj, _ := v.(map[string]any)
	return obj
}

func displayValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	}
}

func firstRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
