package arrow_client

import (
	"context"
	"errors"
	"io"
	"sort"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/pathdata"
)

type entry struct {
	runID string
	table *pathdata.Table
}

// PathServer keeps the latest table published per name in memory and
// serves it over Flight.
type PathServer struct {
	flight.BaseFlightServer

	mu     sync.RWMutex
	tables map[string]entry
	srv    flight.Server
	log    *logger.Logger
}

func NewPathServer() *PathServer {
	return &PathServer{
		tables: make(map[string]entry),
		log:    logger.Log.With("flight"),
	}
}

// Listen binds addr (":0" picks a free port) and registers the service.
func (s *PathServer) Listen(addr string) error {
	srv := flight.NewServerWithMiddleware(nil)
	if err := srv.Init(addr); err != nil {
		return err
	}
	srv.RegisterFlightService(s)
	s.srv = srv
	return nil
}

// Addr is the bound address; valid after Listen.
func (s *PathServer) Addr() string { return s.srv.Addr().String() }

// Serve blocks until Shutdown.
func (s *PathServer) Serve() error {
	s.log.Info("flight path server listening", "addr", s.Addr())
	return s.srv.Serve()
}

func (s *PathServer) Shutdown() {
	if s.srv != nil {
		s.srv.Shutdown()
	}
}

// Put stores t under name directly.
func (s *PathServer) Put(name, runID string, t *pathdata.Table) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tables[name] = entry{runID: runID, table: t}
}

func (s *PathServer) get(name string) (entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.tables[name]
	if !ok {
		return entry{}, status.Errorf(codes.NotFound, "no path data named %q", name)
	}
	return e, nil
}

func (s *PathServer) info(name string, e entry) *flight.FlightInfo {
	return &flight.FlightInfo{
		Schema:           flight.SerializeSchema(e.table.Schema(), memory.DefaultAllocator),
		FlightDescriptor: &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name, e.runID}},
		Endpoint:         []*flight.FlightEndpoint{{Ticket: &flight.Ticket{Ticket: []byte(name)}}},
		TotalRecords:     int64(e.table.N),
		TotalBytes:       -1,
	}
}

func (s *PathServer) GetFlightInfo(_ context.Context, desc *flight.FlightDescriptor) (*flight.FlightInfo, error) {
	if len(desc.GetPath()) == 0 {
		return nil, status.Error(codes.InvalidArgument, "path descriptor required")
	}
	name := desc.GetPath()[0]
	e, err := s.get(name)
	if err != nil {
		return nil, err
	}
	return s.info(name, e), nil
}

func (s *PathServer) ListFlights(_ *flight.Criteria, fs flight.FlightService_ListFlightsServer) error {
	s.mu.RLock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		e, err := s.get(name)
		if err != nil {
			continue
		}
		if err := fs.Send(s.info(name, e)); err != nil {
			return err
		}
	}
	return nil
}

func (s *PathServer) DoGet(tkt *flight.Ticket, fs flight.FlightService_DoGetServer) error {
	name := string(tkt.GetTicket())
	e, err := s.get(name)
	if err != nil {
		return err
	}
	mem := memory.NewGoAllocator()
	rec := e.table.Record(mem)
	defer rec.Release()

	w := flight.NewRecordWriter(fs, ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem))
	if err := w.Write(rec); err != nil {
		w.Close()
		return err
	}
	s.log.Debug("served paths", "name", name, "run_id", e.runID)
	return w.Close()
}

func (s *PathServer) DoPut(fs flight.FlightService_DoPutServer) error {
	rdr, err := flight.NewRecordReader(fs, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "reading put stream: %v", err)
	}
	defer rdr.Release()

	desc := rdr.LatestFlightDescriptor()
	if desc == nil || len(desc.GetPath()) != 2 {
		return status.Error(codes.InvalidArgument, "put needs a {name, run id} path descriptor")
	}
	name, runID := desc.Path[0], desc.Path[1]

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
		return status.Errorf(codes.Internal, "reading put stream: %v", err)
	}

	t, err := pathdata.FromRecords(rdr.Schema(), recs)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "%v", err)
	}
	s.Put(name, runID, t)
	s.log.Info("stored paths", "name", name, "run_id", runID, "paths", t.N, "columns", len(t.Columns))
	return fs.Send(&flight.PutResult{AppMetadata: []byte(runID)})
}
