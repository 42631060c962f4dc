package feed

// LatestEntry is one item's row from the /latest endpoint response.
type LatestEntry struct {
	High     *int64 `json:"high"`
	HighTime *int64 `json:"highTime"`
	Low      *int64 `json:"low"`
	LowTime  *int64 `json:"lowTime"`
}

// WindowEntry is one item's row from the /5m or /1h endpoint response.
type WindowEntry struct {
	AvgHighPrice   *int64 `json:"avgHighPrice"`
	HighPriceVolume int64  `json:"highPriceVolume"`
	AvgLowPrice    *int64 `json:"avgLowPrice"`
	LowPriceVolume  int64  `json:"lowPriceVolume"`
}

// MappingEntry is one item's row from the /mapping endpoint response.
type MappingEntry struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Members bool    `json:"members"`
	Limit   *int    `json:"limit,omitempty"`
	Examine *string `json:"examine,omitempty"`
}

type latestResponse struct {
	Data map[string]LatestEntry `json:"data"`
}

type windowResponse struct {
	Data      map[string]WindowEntry `json:"data"`
	Timestamp int64                  `json:"timestamp"`
}
