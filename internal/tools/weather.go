package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const defaultWeatherURL = "https://api.open-meteo.com/v1/forecast"

type weatherTool struct {
	client  *http.Client
	baseURL string
}

type weatherParams struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func newWeatherTool(client *http.Client, baseURL string) tool.InvokableTool {
	if baseURL == "" {
		baseURL = defaultWeatherURL
	}
	w := &weatherTool{client: client, baseURL: baseURL}
	info := &schema.ToolInfo{
		Name: NameWeather,
		Desc: "Get the current weather at a location",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"latitude":  {Desc: "Latitude in decimal degrees", Type: schema.Number, Required: true},
			"longitude": {Desc: "Longitude in decimal degrees", Type: schema.Number, Required: true},
		}),
	}
	return utils.NewTool(info, w.run)
}

func (w *weatherTool) run(ctx context.Context, params *weatherParams) (string, error) {
	if params == nil {
		return "", errors.New("missing coordinates")
	}
	if params.Latitude < -90 || params.Latitude > 90 || params.Longitude < -180 || params.Longitude > 180 {
		return "", fmt.Errorf("coordinates out of range: %v,%v", params.Latitude, params.Longitude)
	}
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(params.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(params.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("weather request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("weather request: %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", err
	}
	return string(body), nil
}
