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
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/pathdata"
)

const (
	// Flight protocol port
	PortData = 3000

	DefaultTimeout = 30 * time.Second
)

var errNotConnected = errors.New("client not connected, call Connect() first")

// PathStore fetches and publishes named path tables.
type PathStore interface {
	Connect(ctx context.Context) error
	Close() error
	FetchPaths(ctx context.Context, name string) (*pathdata.Table, error)
	PublishPaths(ctx context.Context, name string, t *pathdata.Table) (string, error)
	ListPaths(ctx context.Context) ([]string, error)
}

// FlightClient talks to a path server over Arrow Flight. A table is
// addressed by name: the DoGet ticket is the name and DoPut carries a path
// descriptor {name, runID}.
type FlightClient struct {
	client  flight.Client
	addr    string
	timeout time.Duration
	log     *logger.Logger
}

// NewFlightClient creates a client for host:port; it does not dial until
// Connect.
func NewFlightClient(host string, port int) *FlightClient {
	if port <= 0 {
		port = PortData
	}
	return &FlightClient{
		addr:    net.JoinHostPort(host, strconv.Itoa(port)),
		timeout: DefaultTimeout,
		log:     logger.Log.With("flight"),
	}
}

// NewFlightClientAddr creates a client for a host:port address.
func NewFlightClientAddr(addr string) *FlightClient {
	c := NewFlightClient("", PortData)
	c.addr = addr
	return c
}

func (fc *FlightClient) Addr() string { return fc.addr }

// Connect establishes connection to Flight server
func (fc *FlightClient) Connect(ctx context.Context) error {
	client, err := flight.NewClientWithMiddleware(fc.addr, nil, nil,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create Flight client: %w", err)
	}
	fc.client = client
	return nil
}

// Close disconnects from Flight server
func (fc *FlightClient) Close() error {
	if fc.client == nil {
		return nil
	}
	err := fc.client.Close()
	fc.client = nil
	return err
}

// FetchPaths downloads the latest table published under name.
func (fc *FlightClient) FetchPaths(ctx context.Context, name string) (*pathdata.Table, error) {
	if fc.client == nil {
		return nil, errNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()
	start := time.Now()

	stream, err := fc.client.DoGet(ctx, &flight.Ticket{Ticket: []byte(name)})
	if err != nil {
		return nil, fmt.Errorf("failed to create DoGet stream: %w", err)
	}
	rdr, err := flight.NewRecordReader(stream, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	defer rdr.Release()

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for rdr.Next() {
		rec := rdr.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}

	t, err := pathdata.FromRecords(rdr.Schema(), recs)
	if err != nil {
		return nil, err
	}
	fc.log.Debug("fetched paths", "name", name, "paths", t.N, "columns", len(t.Columns), "duration", time.Since(start))
	return t, nil
}

// PublishPaths uploads t under name and returns the run id it was stored
// with.
func (fc *FlightClient) PublishPaths(ctx context.Context, name string, t *pathdata.Table) (string, error) {
	if fc.client == nil {
		return "", errNotConnected
	}
	if len(t.Columns) == 0 {
		return "", fmt.Errorf("no columns provided")
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()
	start := time.Now()
	runID := uuid.NewString()

	mem := memory.NewGoAllocator()
	rec := t.Record(mem)
	defer rec.Release()

	stream, err := fc.client.DoPut(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create DoPut stream: %w", err)
	}
	w := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	w.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{name, runID},
	})
	if err := w.Write(rec); err != nil {
		w.Close()
		return "", fmt.Errorf("failed to write record: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return "", fmt.Errorf("failed to close stream: %w", err)
	}

	stored := ""
	for {
		res, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("failed to publish %q: %w", name, err)
		}
		stored = string(res.GetAppMetadata())
	}
	if stored != runID {
		return "", fmt.Errorf("server acknowledged run %q, sent %q", stored, runID)
	}

	fc.log.Info("published paths", "name", name, "run_id", runID, "paths", t.N, "duration", time.Since(start))
	return runID, nil
}

// ListPaths returns the names the server holds tables for.
func (fc *FlightClient) ListPaths(ctx context.Context) ([]string, error) {
	if fc.client == nil {
		return nil, errNotConnected
	}
	ctx, cancel := context.WithTimeout(ctx, fc.timeout)
	defer cancel()

	stream, err := fc.client.ListFlights(ctx, &flight.Criteria{})
	if err != nil {
		return nil, fmt.Errorf("failed to list flights: %w", err)
	}
	var names []string
	for {
		info, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list flights: %w", err)
		}
		if d := info.GetFlightDescriptor(); d != nil && len(d.Path) > 0 {
			names = append(names, d.Path[0])
		}
	}
}

var _ PathStore = (*FlightClient)(nil)
