package shipper

import (
	"github.com/trailwatch/trailwatch/agent/internal/scraper"
	"github.com/trailwatch/trailwatch/pkg/wire"
)

// toRequest converts a scraped sample into the SendReading payload.
//
// No timestamp is sent: the server stamps every reading on receipt.
// A missing battery series is omitted rather than sent as zero.
func toRequest(s scraper.Sample) *wire.ReadingRequest {
	req := &wire.ReadingRequest{
		TrailID:  s.TrailID,
		Moisture: s.Moisture,
	}
	if s.Battery != nil {
		req.Battery = *s.Battery
	}
	return req
}
