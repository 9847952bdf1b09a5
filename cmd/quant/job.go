package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/stat"

	"github.com/23skdu/longbow-quant/internal/arrow_client"
	"github.com/23skdu/longbow-quant/internal/compute"
	"github.com/23skdu/longbow-quant/internal/logger"
	"github.com/23skdu/longbow-quant/internal/opcode"
	"github.com/23skdu/longbow-quant/internal/pathdata"
)

// Columns a pricing table must carry, scalar or per path.
var requiredColumns = []string{"spot", "strike", "vol", "rate", "maturity"}

const flightScheme = "flight://"

// newPathStore is replaced in tests.
var newPathStore = func(addr string) arrow_client.PathStore {
	return arrow_client.NewFlightClientAddr(addr)
}

type jobOptions struct {
	Steps  int
	Rounds int
	Put    bool
}

type jobResult struct {
	RunID  string
	Device string
	Paths  int
	Mean   float64
	StdErr float64
	Debug  compute.DebugInfo
	Out    *pathdata.Table
}

// loadTable reads a local IPC file, a gs:// object or a flight://name table.
func loadTable(ctx context.Context, src, flightAddr string) (*pathdata.Table, error) {
	switch {
	case strings.HasPrefix(src, "gs://"):
		return pathdata.ReadGCS(ctx, src)
	case strings.HasPrefix(src, flightScheme):
		store := newPathStore(flightAddr)
		if err := store.Connect(ctx); err != nil {
			return nil, err
		}
		defer store.Close()
		return store.FetchPaths(ctx, strings.TrimPrefix(src, flightScheme))
	default:
		return pathdata.ReadFile(src)
	}
}

// saveTable is the inverse of loadTable. The returned run id is empty for
// files and GCS objects.
func saveTable(ctx context.Context, dst, flightAddr string, t *pathdata.Table) (string, error) {
	switch {
	case strings.HasPrefix(dst, "gs://"):
		bucket, object, err := pathdata.ParseURL(dst)
		if err != nil {
			return "", err
		}
		return "", (&pathdata.GCSStore{Bucket: bucket}).Write(ctx, object, t)
	case strings.HasPrefix(dst, flightScheme):
		store := newPathStore(flightAddr)
		if err := store.Connect(ctx); err != nil {
			return "", err
		}
		defer store.Close()
		return store.PublishPaths(ctx, strings.TrimPrefix(dst, flightScheme), t)
	default:
		return "", pathdata.WriteFile(dst, t)
	}
}

// recordEuropean records a log-Euler simulation of the spot over steps
// periods and the discounted call (put when put is set) payoff. It returns
// the payoff and terminal spot ids.
func recordEuropean(c compute.Context, cols map[string]int, half, nsteps, zero int, steps int, put bool) (pv, spot int, err error) {
	z, err := c.CreateInputVariates(1, steps)
	if err != nil {
		return 0, 0, err
	}

	var failed opcode.Code
	apply := func(code opcode.Code, args ...int) int {
		if err != nil {
			return 0
		}
		id, e := c.ApplyOperation(code, args...)
		if e != nil {
			err, failed = e, code
		}
		return id
	}

	vol, rate, mat := cols["vol"], cols["rate"], cols["maturity"]
	dt := apply(opcode.Div, mat, nsteps)
	variance := apply(opcode.Mult, vol, vol)
	drift := apply(opcode.Mult, apply(opcode.Subtract, rate, apply(opcode.Mult, half, variance)), dt)
	diffusion := apply(opcode.Mult, vol, apply(opcode.Sqrt, dt))

	spot = cols["spot"]
	for k := 0; k < steps; k++ {
		shock := apply(opcode.Exp, apply(opcode.Add, drift, apply(opcode.Mult, diffusion, z[0][k])))
		spot = apply(opcode.Mult, spot, shock)
	}

	var intrinsic int
	if put {
		intrinsic = apply(opcode.Subtract, cols["strike"], spot)
	} else {
		intrinsic = apply(opcode.Subtract, spot, cols["strike"])
	}
	payoff := apply(opcode.Max, intrinsic, zero)
	df := apply(opcode.Exp, apply(opcode.Negative, apply(opcode.Mult, rate, mat)))
	pv = apply(opcode.Mult, payoff, df)
	if err != nil {
		return 0, 0, fmt.Errorf("recording %s: %w", failed, err)
	}

	if err := c.DeclareOutputVariable(pv); err != nil {
		return 0, 0, err
	}
	if err := c.DeclareOutputVariable(spot); err != nil {
		return 0, 0, err
	}
	return pv, spot, nil
}

// price runs opt.Rounds rounds of one calculation on c; the first round
// records, later ones replay.
func price(c compute.Context, device string, t *pathdata.Table, settings compute.Settings, opt jobOptions) (*jobResult, error) {
	log := logger.Log.With("quant")
	for _, name := range requiredColumns {
		if _, ok := t.Column(name); !ok {
			return nil, fmt.Errorf("input has no %q column", name)
		}
	}
	if opt.Steps <= 0 || opt.Rounds <= 0 {
		return nil, fmt.Errorf("steps (%d) and rounds (%d) must be positive", opt.Steps, opt.Rounds)
	}

	out := [][]float64{make([]float64, t.N), make([]float64, t.N)}
	id := 0
	defer func() {
		// a failed round is still open
		c.AbortCalculation()
		if id != 0 {
			if err := c.DisposeCalculation(id); err != nil {
				log.Warn("dispose failed", "id", id, "err", err)
			}
		}
	}()

	for round := 0; round < opt.Rounds; round++ {
		start := time.Now()
		slot, newCalc, err := c.InitiateCalculation(t.N, id, 0, settings)
		if err != nil {
			return nil, err
		}
		id = slot
		ids, err := t.Stage(c)
		if err != nil {
			return nil, err
		}
		cols := make(map[string]int, len(ids))
		for i, col := range t.Columns {
			cols[col.Name] = ids[i]
		}
		var consts [3]int
		for i, v := range []float64{0.5, float64(opt.Steps), 0} {
			if consts[i], err = c.CreateInputVariable(v); err != nil {
				return nil, err
			}
		}
		if newCalc {
			if _, _, err := recordEuropean(c, cols, consts[0], consts[1], consts[2], opt.Steps, opt.Put); err != nil {
				return nil, err
			}
		}
		if err := c.FinalizeCalculation(out); err != nil {
			return nil, err
		}
		log.Debug("round finished", "id", id, "round", round, "recorded", newCalc, "duration", time.Since(start))
	}

	mean, std := stat.MeanStdDev(out[0], nil)
	if math.IsNaN(std) {
		std = 0
	}
	res, err := pathdata.FromOutputs(t.N, []string{"pv", "spot_T"}, out)
	if err != nil {
		return nil, err
	}
	return &jobResult{
		RunID:  uuid.NewString(),
		Device: device,
		Paths:  t.N,
		Mean:   mean,
		StdErr: stat.StdErr(std, float64(t.N)),
		Debug:  c.DebugInfo(),
		Out:    res,
	}, nil
}
