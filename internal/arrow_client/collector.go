package arrow_client

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

// Collector is an in-memory Flight service that accepts DoPut streams and
// keeps the received records by descriptor path.
type Collector struct {
	flight.BaseFlightServer

	mu      sync.RWMutex
	records map[string][]arrow.Record

	// OnRecord, when set, is called for every received record before it is stored.
	OnRecord func(path []string, rec arrow.Record) error
}

func NewCollector() *Collector {
	return &Collector{records: make(map[string][]arrow.Record)}
}

func (c *Collector) DoPut(stream flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(stream)
	if err != nil {
		return err
	}
	defer rdr.Release()

	desc := rdr.LatestFlightDescriptor()
	if desc == nil || len(desc.Path) == 0 {
		return errors.New("DoPut requires a path descriptor")
	}
	key := strings.Join(desc.Path, "/")

	for rdr.Next() {
		rec := rdr.Record()
		if c.OnRecord != nil {
			if err := c.OnRecord(desc.Path, rec); err != nil {
				return err
			}
		}
		rec.Retain()
		c.mu.Lock()
		c.records[key] = append(c.records[key], rec)
		c.mu.Unlock()

		ack := fmt.Sprintf("%s:%d", key, rec.NumRows())
		if err := stream.Send(&flight.PutResult{AppMetadata: []byte(ack)}); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil {
		return err
	}
	logger.Log.Debug("Collected results", "path", key)
	return nil
}

// Records returns the records stored under the joined path. They remain
// owned by the collector.
func (c *Collector) Records(path ...string) []arrow.Record {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]arrow.Record(nil), c.records[strings.Join(path, "/")]...)
}

// Paths lists the descriptor paths received so far.
func (c *Collector) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.records))
	for k := range c.records {
		out = append(out, k)
	}
	return out
}

// Reset releases every stored record.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, recs := range c.records {
		for _, r := range recs {
			r.Release()
		}
	}
	c.records = make(map[string][]arrow.Record)
}

// Serve starts a Flight server for c on addr and returns it with the bound
// address. The caller stops it with Shutdown.
func (c *Collector) Serve(addr string) (flight.Server, string, error) {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return nil, "", err
	}
	srv.RegisterFlightService(c)
	go func() {
		if err := srv.Serve(); err != nil {
			logger.Log.Error("Flight server stopped", "error", err)
		}
	}()
	return srv, srv.Addr().String(), nil
}
