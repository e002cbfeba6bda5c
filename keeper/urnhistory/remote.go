package urnhistory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"cagekeeper/dss"
)

const remoteQuery = `query Urns($ilk: String!) {
  urns(ilk: $ilk) {
    address
    ink
    art
  }
}`

// RemoteProvider queries a pre-indexed urn history service instead of
// replaying chain logs, conserving node resources. The service is expected to
// return the same logical position set as a full replay would.
type RemoteProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	log      *slog.Logger
}

// NewRemoteProvider builds a provider against the given endpoint. The apiKey
// may be empty for unauthenticated deployments.
func NewRemoteProvider(endpoint, apiKey string, timeout time.Duration, logger *slog.Logger) (*RemoteProvider, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("remote urn history endpoint required")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RemoteProvider{
		endpoint: endpoint,
		apiKey:   strings.TrimSpace(apiKey),
		client:   &http.Client{Timeout: timeout},
		log:      logger,
	}, nil
}

type remoteRequest struct {
	Query     string            `json:"query"`
	Variables map[string]string `json:"variables"`
}

type remoteResponse struct {
	Data struct {
		Urns []remoteUrn `json:"urns"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type remoteUrn struct {
	Address string `json:"address"`
	Ink     string `json:"ink"`
	Art     string `json:"art"`
}

// Urns queries the indexer for every position in the ilk.
func (p *RemoteProvider) Urns(ctx context.Context, ilk string) (map[common.Address]dss.Urn, error) {
	body, err := json.Marshal(remoteRequest{
		Query:     remoteQuery,
		Variables: map[string]string{"ilk": ilk},
	})
	if err != nil {
		return nil, fmt.Errorf("encode urn history query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build urn history request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query urn history: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("urn history service returned %s", resp.Status)
	}

	var decoded remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode urn history response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("urn history service error: %s", decoded.Errors[0].Message)
	}

	urns := make(map[common.Address]dss.Urn, len(decoded.Data.Urns))
	for _, raw := range decoded.Data.Urns {
		if !common.IsHexAddress(raw.Address) {
			return nil, fmt.Errorf("urn history returned invalid address %q", raw.Address)
		}
		ink, ok := new(big.Int).SetString(strings.TrimSpace(raw.Ink), 10)
		if !ok {
			return nil, fmt.Errorf("urn history returned malformed ink %q", raw.Ink)
		}
		art, ok := new(big.Int).SetString(strings.TrimSpace(raw.Art), 10)
		if !ok {
			return nil, fmt.Errorf("urn history returned malformed art %q", raw.Art)
		}
		owner := common.HexToAddress(raw.Address)
		urns[owner] = dss.Urn{
			Ilk:     ilk,
			Address: owner,
			Ink:     dss.NewWad(ink),
			Art:     dss.NewWad(art),
		}
	}
	p.log.Debug("fetched urn history", "ilk", ilk, "urns", len(urns))
	return urns, nil
}
