package scanner

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vigilmc/vigil/internal/models"
)

// DefaultProviders returns the six supported status providers in their fixed
// retry priority order, sharing one HTTP client.
func DefaultProviders(client *http.Client) []Provider {
	return []Provider{
		&mcsrvstatProvider{client: client},
		&mcstatusProvider{client: client},
		&mcapiProvider{client: client},
		&xdefconProvider{client: client},
		&minetoolsProvider{client: client},
		&tickhostingProvider{client: client},
	}
}

// playersSection is the nested players object shared by several providers.
type playersSection struct {
	Online *int `json:"online"`
	Max    *int `json:"max"`
}

// mcsrvstatProvider queries api.mcsrvstat.us.
type mcsrvstatProvider struct {
	client *http.Client
}

func (p *mcsrvstatProvider) Name() string { return "mcsrvstat" }

func (p *mcsrvstatProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	var payload struct {
		Online  *bool          `json:"online"`
		Players playersSection `json:"players"`
	}
	if err := fetchJSON(ctx, p.client, "https://api.mcsrvstat.us/3/"+url.PathEscape(address), &payload); err != nil {
		return models.Observation{}, err
	}

	return models.Observation{
		Online:     payload.Online,
		Players:    payload.Players.Online,
		MaxPlayers: payload.Players.Max,
	}, nil
}

// mcstatusProvider queries api.mcstatus.io.
type mcstatusProvider struct {
	client *http.Client
}

func (p *mcstatusProvider) Name() string { return "mcstatus" }

func (p *mcstatusProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	var payload struct {
		Online  *bool          `json:"online"`
		Players playersSection `json:"players"`
	}
	if err := fetchJSON(ctx, p.client, "https://api.mcstatus.io/v2/status/java/"+url.PathEscape(address), &payload); err != nil {
		return models.Observation{}, err
	}

	return models.Observation{
		Online:     payload.Online,
		Players:    payload.Players.Online,
		MaxPlayers: payload.Players.Max,
	}, nil
}

// mcapiProvider queries mcapi.us, which takes host and port as query params
// and nests current players under "now".
type mcapiProvider struct {
	client *http.Client
}

func (p *mcapiProvider) Name() string { return "mcapi" }

func (p *mcapiProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	host, port := splitHostPort(address)
	params := url.Values{"ip": {host}}
	if port != nil {
		params.Set("port", fmt.Sprint(*port))
	}

	var payload struct {
		Online  *bool `json:"online"`
		Players struct {
			Now *int `json:"now"`
			Max *int `json:"max"`
		} `json:"players"`
	}
	if err := fetchJSON(ctx, p.client, "https://mcapi.us/server/status?"+params.Encode(), &payload); err != nil {
		return models.Observation{}, err
	}

	return models.Observation{
		Online:     payload.Online,
		Players:    payload.Players.Now,
		MaxPlayers: payload.Players.Max,
	}, nil
}

// xdefconProvider queries mcapi.xdefcon.com, which reports status as a string
// and numeric fields at the top level.
type xdefconProvider struct {
	client *http.Client
}

func (p *xdefconProvider) Name() string { return "xdefcon" }

func (p *xdefconProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	var payload struct {
		ServerStatus string   `json:"serverStatus"`
		Players      *float64 `json:"players"`
		MaxPlayers   *float64 `json:"maxplayers"`
		Ping         *float64 `json:"ping"`
	}
	endpoint := "https://mcapi.xdefcon.com/server/" + url.PathEscape(address) + "/full/json"
	if err := fetchJSON(ctx, p.client, endpoint, &payload); err != nil {
		return models.Observation{}, err
	}

	obs := models.Observation{PingMS: payload.Ping}
	switch payload.ServerStatus {
	case "online":
		obs.Online = boolPtr(true)
	case "offline":
		obs.Online = boolPtr(false)
	}
	if payload.Players != nil {
		obs.Players = intPtr(int(*payload.Players))
	}
	if payload.MaxPlayers != nil {
		obs.MaxPlayers = intPtr(int(*payload.MaxPlayers))
	}

	return obs, nil
}

// minetoolsProvider queries api.minetools.eu. The response has no explicit
// online flag; a present player count implies the server answered the ping.
type minetoolsProvider struct {
	client *http.Client
}

func (p *minetoolsProvider) Name() string { return "minetools" }

func (p *minetoolsProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	host, port := splitHostPort(address)
	path := url.PathEscape(host)
	if port != nil {
		path += "/" + fmt.Sprint(*port)
	}

	var payload struct {
		Players playersSection `json:"players"`
		Latency *float64       `json:"latency"`
	}
	if err := fetchJSON(ctx, p.client, "https://api.minetools.eu/ping/"+path, &payload); err != nil {
		return models.Observation{}, err
	}

	obs := models.Observation{
		Players:    payload.Players.Online,
		MaxPlayers: payload.Players.Max,
		PingMS:     payload.Latency,
	}
	if payload.Players.Online != nil {
		obs.Online = boolPtr(true)
	}

	return obs, nil
}

// tickhostingProvider queries mcstats.tickhosting.com.
type tickhostingProvider struct {
	client *http.Client
}

func (p *tickhostingProvider) Name() string { return "tickhosting" }

func (p *tickhostingProvider) Probe(ctx context.Context, address string) (models.Observation, error) {
	host, port := splitHostPort(address)
	params := url.Values{"ip": {host}, "type": {"java"}}
	if port != nil {
		params.Set("port", fmt.Sprint(*port))
	}

	var payload struct {
		Online  *bool          `json:"online"`
		Players playersSection `json:"players"`
		Latency *float64       `json:"latency"`
	}
	if err := fetchJSON(ctx, p.client, "https://mcstats.tickhosting.com/api/status?"+params.Encode(), &payload); err != nil {
		return models.Observation{}, err
	}

	return models.Observation{
		Online:     payload.Online,
		Players:    payload.Players.Online,
		MaxPlayers: payload.Players.Max,
		PingMS:     payload.Latency,
	}, nil
}
