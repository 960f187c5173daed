package arrow_client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/hopsurprisal/internal/logger"
)

// DefaultPort is used when an address carries no port.
const DefaultPort = 8815

// FlightClient publishes result records to an Arrow Flight endpoint
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
}

// NewFlightClient records the target address; Connect dials it.
func NewFlightClient(addr string) (*FlightClient, error) {
	if addr == "" {
		return nil, errors.New("flight address is empty")
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(DefaultPort))
	}
	return &FlightClient{addr: addr, timeout: 30 * time.Second}, nil
}

func (fc *FlightClient) Addr() string { return fc.addr }

// Connect establishes the gRPC channel. The dial is lazy; failures surface
// on the first call.
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddlewareCtx(ctx, fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

func (fc *FlightClient) Close() error {
	if fc.client != nil {
		err := fc.client.Close()
		fc.client = nil
		return err
	}
	return nil
}

// DoPut streams rec under the descriptor path and returns the number of
// acknowledgements the server sent back.
func (fc *FlightClient) DoPut(ctx context.Context, path []string, rec arrow.Record) (int, error) {
	if fc.client == nil {
		return 0, fmt.Errorf("client not connected, call Connect() first")
	}
	if len(path) == 0 {
		return 0, errors.New("empty descriptor path")
	}

	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to open DoPut stream: %w", err)
	}

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	w.SetFlightDescriptor(&flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: path})
	if err := w.Write(rec); err != nil {
		w.Close()
		return 0, fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return 0, fmt.Errorf("failed to close send: %w", err)
	}

	acks := 0
	for {
		_, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return acks, fmt.Errorf("DoPut: %w", err)
		}
		acks++
	}

	logger.Log.Info("Published results", "addr", fc.addr, "path", path, "rows", rec.NumRows(), "acks", acks)
	return acks, nil
}
