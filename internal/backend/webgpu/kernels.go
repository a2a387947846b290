package webgpu

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/born-ml/gpustats/internal/compute"
)

// ProgramName names the built-in kernel program.
const ProgramName = "gpustats.wgsl"

// MaxGroupSize is the largest work-group size the kernels are rendered for.
// WebGPU guarantees 256 invocations per work-group.
const MaxGroupSize = 256

// statsShader holds the reduction and deviation kernels. Placeholders are
// filled by Render for one (group size, element type) pair:
//
//	{{T}}       WGSL element type (f32, i32)
//	{{GROUP}}   work-group size
//	{{ZERO}}    additive identity
//	{{MIN_ID}}  identity of min (largest value of T)
//	{{MAX_ID}}  identity of max (smallest value of T)
//
// Lanes at or past params.count load the identity of their reduction, and a
// lane only combines a partner below the group's valid lane count, so a
// zero-padded tail never changes a result.
const statsShader = `
alias T = {{T}};

struct Params {
    count: u32,
    groups: u32,
    mean: u32,
    pad: u32,
}

@group(0) @binding(0) var<storage, read> input: array<T>;
@group(0) @binding(1) var<storage, read_write> output: array<T>;
@group(0) @binding(2) var<uniform> params: Params;

var<workgroup> local_data: array<T, {{GROUP}}>;

fn load(gid: u32, identity: T) -> T {
    if (gid < params.count) {
        return input[gid];
    }
    return identity;
}

fn valid_lanes(group: u32) -> u32 {
    let base = group * {{GROUP}}u;
    if (base >= params.count) {
        return 0u;
    }
    return min({{GROUP}}u, params.count - base);
}

@compute @workgroup_size({{GROUP}})
fn reduce_sum(
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let tid = local_id.x;
    let valid = valid_lanes(workgroup_id.x);
    local_data[tid] = load(global_id.x, {{ZERO}});
    workgroupBarrier();

    for (var s: u32 = {{GROUP}}u / 2u; s > 0u; s = s >> 1u) {
        if (tid < s && tid + s < valid) {
            local_data[tid] = local_data[tid] + local_data[tid + s];
        }
        workgroupBarrier();
    }

    if (tid == 0u) {
        output[workgroup_id.x] = local_data[0];
    }
}

@compute @workgroup_size({{GROUP}})
fn reduce_min(
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let tid = local_id.x;
    let valid = valid_lanes(workgroup_id.x);
    local_data[tid] = load(global_id.x, {{MIN_ID}});
    workgroupBarrier();

    for (var s: u32 = {{GROUP}}u / 2u; s > 0u; s = s >> 1u) {
        if (tid < s && tid + s < valid) {
            local_data[tid] = min(local_data[tid], local_data[tid + s]);
        }
        workgroupBarrier();
    }

    if (tid == 0u) {
        output[workgroup_id.x] = local_data[0];
    }
}

@compute @workgroup_size({{GROUP}})
fn reduce_max(
    @builtin(global_invocation_id) global_id: vec3<u32>,
    @builtin(local_invocation_id) local_id: vec3<u32>,
    @builtin(workgroup_id) workgroup_id: vec3<u32>
) {
    let tid = local_id.x;
    let valid = valid_lanes(workgroup_id.x);
    local_data[tid] = load(global_id.x, {{MAX_ID}});
    workgroupBarrier();

    for (var s: u32 = {{GROUP}}u / 2u; s > 0u; s = s >> 1u) {
        if (tid < s && tid + s < valid) {
            local_data[tid] = max(local_data[tid], local_data[tid + s]);
        }
        workgroupBarrier();
    }

    if (tid == 0u) {
        output[workgroup_id.x] = local_data[0];
    }
}

@compute @workgroup_size({{GROUP}})
fn squared_deviation(@builtin(global_invocation_id) global_id: vec3<u32>) {
    let i = global_id.x;
    if (i >= params.groups * {{GROUP}}u) {
        return;
    }
    if (i < params.count) {
        let d = input[i] - bitcast<T>(params.mean);
        output[i] = d * d;
    } else {
        output[i] = {{ZERO}};
    }
}
`

// DefaultProgram returns the built-in kernel program.
func DefaultProgram() compute.Program {
	return compute.Program{Name: ProgramName, Source: statsShader}
}

// wgslType returns the WGSL scalar type and identity literals for dt.
func wgslType(dt compute.DataType) (typ, zero, minID, maxID string, err error) {
	switch dt {
	case compute.Float32:
		return "f32", "0.0", floatLiteral(compute.Neutral[float32](compute.ReduceMin)),
			floatLiteral(compute.Neutral[float32](compute.ReduceMax)), nil
	case compute.Int32:
		return "i32", "0i", "2147483647i", "(-2147483647i - 1i)", nil
	default:
		return "", "", "", "", fmt.Errorf("webgpu: %w: %s", compute.ErrUnsupportedDataType, dt)
	}
}

// floatLiteral formats v as the shortest WGSL literal that rounds back to v.
func floatLiteral(v float32) string {
	return strconv.FormatFloat(float64(v), 'e', -1, 32)
}

// Render fills the placeholders of p.Source for p.GroupSize and p.DataType.
// An empty Source renders the built-in kernels.
func Render(p compute.Program) (string, error) {
	if p.GroupSize <= 0 || p.GroupSize&(p.GroupSize-1) != 0 || p.GroupSize > MaxGroupSize {
		return "", fmt.Errorf("webgpu: %w: %d (max %d)", compute.ErrInvalidGroupSize, p.GroupSize, MaxGroupSize)
	}
	typ, zero, minID, maxID, err := wgslType(p.DataType)
	if err != nil {
		return "", err
	}

	src := p.Source
	if src == "" {
		src = statsShader
	}
	r := strings.NewReplacer(
		"{{T}}", typ,
		"{{GROUP}}", strconv.Itoa(p.GroupSize),
		"{{ZERO}}", zero,
		"{{MIN_ID}}", minID,
		"{{MAX_ID}}", maxID,
	)
	return r.Replace(src), nil
}

var entryPointRE = regexp.MustCompile(`@compute[^{]*?\bfn\s+([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

// EntryPoints lists the compute entry points declared in WGSL source.
func EntryPoints(src string) []string {
	var names []string
	for _, m := range entryPointRE.FindAllStringSubmatch(src, -1) {
		names = append(names, m[1])
	}
	return names
}

// missingEntryPoints returns the kernels not declared in src.
func missingEntryPoints(src string, kernels []compute.Kernel) []string {
	declared := make(map[string]bool)
	for _, name := range EntryPoints(src) {
		declared[name] = true
	}
	var missing []string
	for _, k := range kernels {
		if !declared[string(k)] {
			missing = append(missing, string(k))
		}
	}
	return missing
}
