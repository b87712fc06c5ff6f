package oracle

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"SignalFuse/internal/domain/models"
	drepo "SignalFuse/internal/domain/repository"
	xhttp "SignalFuse/pkg/http"
)

const latestPath = "/v2/updates/price/latest"

// HermesSource reads the latest price and confidence interval for a batch of
// Pyth feed ids from a Hermes endpoint.
type HermesSource struct {
	baseURL string
	client  *xhttp.Client
}

// NewHermesSource creates an OracleSource backed by Hermes.
func NewHermesSource(baseURL string, timeout time.Duration) drepo.OracleSource {
	return &HermesSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
	}
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int    `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesUpdate struct {
	ID    string       `json:"id"`
	Price *hermesPrice `json:"price"`
}

type hermesResponse struct {
	Parsed []hermesUpdate `json:"parsed"`
}

// Latest fetches one quote per id. Entries without a price block or with
// unparseable numbers are skipped.
func (s *HermesSource) Latest(ctx context.Context, ids []string) ([]models.OracleQuote, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var resp hermesResponse
	err := s.client.SendAndParse(ctx, &xhttp.RequestOptions{
		Method:      xhttp.MethodGet,
		URL:         s.baseURL + latestPath,
		QueryParams: map[string][]string{"ids[]": ids, "parsed": {"true"}},
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("hermes latest: %w", err)
	}

	quotes := make([]models.OracleQuote, 0, len(resp.Parsed))
	for _, u := range resp.Parsed {
		q, ok := toQuote(u)
		if !ok {
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

func toQuote(u hermesUpdate) (models.OracleQuote, bool) {
	if u.Price == nil {
		return models.OracleQuote{}, false
	}
	raw, err := strconv.ParseFloat(u.Price.Price, 64)
	if err != nil {
		return models.OracleQuote{}, false
	}
	conf, err := strconv.ParseFloat(u.Price.Conf, 64)
	if err != nil {
		return models.OracleQuote{}, false
	}
	scale := math.Pow10(u.Price.Expo)
	price, confidence := raw*scale, conf*scale
	if !finite(price) || !finite(confidence) || price <= 0 || confidence < 0 {
		return models.OracleQuote{}, false
	}

	q := models.OracleQuote{
		ID:                 NormalizeID(u.ID),
		Price:              price,
		ConfidenceInterval: confidence,
	}
	if u.Price.PublishTime > 0 {
		q.PublishTime = time.Unix(u.Price.PublishTime, 0).UTC()
	}
	return q, true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// NormalizeID lowercases a feed id and ensures the 0x prefix.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if !strings.HasPrefix(id, "0x") {
		id = "0x" + id
	}
	return id
}
