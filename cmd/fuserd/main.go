// Command fuserd demonstrates the fusion pipeline end to end: it builds a
// toy fusion, segments it and logs the group count, then schedules,
// compiles and runs the whole fusion as a single kernel against in-process
// fake tensors. Flag/logger/run-loop shape is
// grounded on cmd_teacher/snellerd/run_worker.go.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kernelfuse/fuser/config"
	"github.com/kernelfuse/fuser/device"
	"github.com/kernelfuse/fuser/exec"
	"github.com/kernelfuse/fuser/ir"
	"github.com/kernelfuse/fuser/scheduler"
	"github.com/kernelfuse/fuser/segment"
)

func main() {
	log.Default().SetOutput(os.Stdout)

	cmd := flag.NewFlagSet("fuserd", flag.ExitOnError)
	demo := cmd.String("demo", "chain", "which toy fusion to run: chain, reduce")
	debugDir := cmd.String("debug-dir", "", "directory to archive compiled kernel sources into")
	profilePath := cmd.String("device-profile", "", "YAML device profile file (optional; a simulated device is used if unset)")
	if err := cmd.Parse(os.Args[1:]); err != nil {
		os.Exit(1)
	}

	logger := log.New(os.Stdout, "", 0)

	profile := config.DeviceProfile{Name: "sim0", SharedMemPerBlock: 48 * 1024, MaxThreadsPerBlock: 1024}
	if *profilePath != "" {
		profiles, err := config.LoadDeviceProfiles(*profilePath)
		if err != nil {
			logger.Fatalf("fuserd: loading device profile: %v", err)
		}
		if len(profiles) == 0 {
			logger.Fatalf("fuserd: %s declares no devices", *profilePath)
		}
		profile = profiles[0]
	}

	f, inputShapes, err := buildDemoFusion(*demo)
	if err != nil {
		logger.Fatalf("fuserd: %v", err)
	}

	groups, err := segment.NewFinder(f, nil).Segment()
	if err != nil {
		logger.Fatalf("fuserd: segmenting: %v", err)
	}
	logger.Printf("fuserd: segmented into %d group(s)", len(groups))

	compiler := device.NewFakeCompiler()
	runtime := device.NewFakeRuntime()
	info := &device.FakeDeviceInfo{SmemPerBlock: profile.SharedMemPerBlock}

	ex := exec.NewExecutor(compiler, device.FakeEmitter{}, info, runtime, nil)
	if *debugDir != "" {
		ex.SetDebugArtifactDir(*debugDir)
	}

	entry, ok := scheduler.ProposeHeuristics(f)
	if !ok {
		logger.Fatalf("fuserd: no scheduler heuristic accepts this fusion")
	}
	logger.Printf("fuserd: scheduling with heuristic %q", entry.Name())
	if err := entry.Schedule(f); err != nil {
		logger.Fatalf("fuserd: scheduling: %v", err)
	}

	opts := config.CompileOptions{Device: profile, RetainSource: true, KernelNamePrefix: "demo"}
	if err := ex.CompileFusion(f, opts); err != nil {
		logger.Fatalf("fuserd: compiling: %v", err)
	}
	logger.Printf("fuserd: compiled kernel:\n%s", ex.SourceText())

	inputs := make([]device.Tensor, len(inputShapes))
	for i, shape := range inputShapes {
		t, err := runtime.Allocate(shape, ir.Float, device.Device{}, false)
		if err != nil {
			logger.Fatalf("fuserd: allocating input %d: %v", i, err)
		}
		inputs[i] = t
	}

	outs, err := ex.RunFusion(inputs, nil, nil)
	if err != nil {
		logger.Fatalf("fuserd: running: %v", err)
	}
	for i, out := range outs {
		logger.Printf("fuserd: output %d shape=%v", i, out.Shape())
	}

	for _, l := range compiler.Launches() {
		logger.Printf("fuserd: launch grid=%v block=%v smem=%d", l.Grid, l.Block, l.SmemBytes)
	}
}

// buildDemoFusion constructs one of a small set of toy fusions for the demo
// CLI to drive through the pipeline, returning the fusion and the runtime
// shape to allocate for each of its fusion inputs in order.
func buildDemoFusion(name string) (*ir.Fusion, [][]int64, error) {
	f := ir.NewFusion()
	guard := ir.EnterFusion(f)
	defer guard.Exit()

	switch name {
	case "chain":
		axes := []*ir.IterDomain{ir.NewIterDomain(ir.NewConstInt(8)), ir.NewIterDomain(ir.NewConstInt(128))}
		a := ir.NewTensorView(axes, ir.Float)
		b := ir.NewTensorView(axes, ir.Float)
		c := ir.NewTensorView(axes, ir.Float)
		d := ir.NewTensorView(axes, ir.Float)
		a.Memory, b.Memory, c.Memory, d.Memory = ir.Global, ir.Global, ir.Global, ir.Global

		if err := f.AddInput(a); err != nil {
			return nil, nil, err
		}
		ir.NewUnaryOp("neg", a, b)
		ir.NewUnaryOp("abs", b, c)
		ir.NewUnaryOp("relu", c, d)
		if err := f.AddOutput(d); err != nil {
			return nil, nil, err
		}
		return f, [][]int64{{8, 128}}, nil

	case "reduce":
		outer := ir.NewIterDomain(ir.NewConstInt(8))
		inner := ir.NewIterDomain(ir.NewConstInt(128))
		in := ir.NewTensorView([]*ir.IterDomain{outer, inner}, ir.Float)
		in.Memory = ir.Global

		redOuter := ir.NewIterDomain(ir.NewConstInt(8))
		redInner := ir.NewIterDomain(ir.NewConstInt(128))
		redInner.Type = ir.Reduction
		out := ir.NewTensorView([]*ir.IterDomain{redOuter, redInner}, ir.Float)
		out.Memory = ir.Global

		if err := f.AddInput(in); err != nil {
			return nil, nil, err
		}
		ir.NewReductionOp("add", ir.NewConstFloat(0), in, out)
		if err := f.AddOutput(out); err != nil {
			return nil, nil, err
		}
		return f, [][]int64{{8, 128}}, nil

	default:
		return nil, nil, fmt.Errorf("unknown demo %q (want chain or reduce)", name)
	}
}
