// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package cpu provides a pure Go compute device for the statistics pipeline.
//
// # Overview
//
// The device executes the reduction and deviation kernels with the same
// work-group model as a GPU:
//   - Fixed-size work-groups with a scoped local buffer per group
//   - Lockstep halving steps within a group
//   - Work-groups of one dispatch spread over goroutines
//   - Float32 and Int32 working types
//
// # Basic Usage
//
//	import (
//	    "github.com/born-ml/gpustats/backend/cpu"
//	    "github.com/born-ml/gpustats/stats"
//	)
//
//	func main() {
//	    dev := cpu.New(cpu.WithWorkers(4))
//	    defer dev.Release()
//
//	    res, err := stats.Compute(context.Background(), dev, samples, stats.WithGroupSize(256))
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(res.Mean, res.StdDev)
//	}
//
// # Thread Safety
//
// The device is safe for concurrent use. Dispatches run once the last
// writer of their buffers has completed.
package cpu
