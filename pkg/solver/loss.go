package solver

import (
	"math"

	"form_finder/pkg/fdm"
)

const defaultVariationSharpness = 20

// softplus is a smooth max(0, x) that does not overflow for large x.
func softplus(x float64) float64 {
	if x > 30 {
		return x
	}
	return math.Log1p(math.Exp(x))
}

// barrier penalises v for crossing below lo (upper == false) or above hi.
func barrier(v, limit, sharpness float64, upper bool) float64 {
	if upper {
		return softplus(sharpness*(v-limit)) / sharpness
	}
	return softplus(sharpness*(limit-v)) / sharpness
}

// smoothRange approximates max(vs) - min(vs) with log-sum-exp.
func smoothRange(vs []float64, k float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	if k <= 0 {
		k = defaultVariationSharpness
	}
	return lse(vs, k) + lse(vs, -k)
}

// lse returns (1/|k|)·log Σ exp(k·v) scaled so that positive k tracks the
// max and negative k tracks the negated min.
func lse(vs []float64, k float64) float64 {
	m := math.Inf(-1)
	for _, v := range vs {
		m = math.Max(m, k*v)
	}
	var sum float64
	for _, v := range vs {
		sum += math.Exp(k*v - m)
	}
	return (m + math.Log(sum)) / math.Abs(k)
}

// objectiveLoss evaluates one resolved objective against a solved state.
func objectiveLoss(o fdm.Resolved, s *state, opts Options) float64 {
	sharp := o.Sharpness
	if sharp <= 0 {
		sharp = opts.BarrierSharpness
	}

	var loss float64
	switch o.Kind {
	case fdm.TargetXYZ:
		for k, n := range o.Indices {
			for c := 0; c < 3; c++ {
				d := s.xyz[3*n+c] - o.Targets[3*k+c]
				loss += d * d
			}
		}
	case fdm.RigidSetCompare:
		loss = rigidLoss(o, s)
	case fdm.TargetLength:
		for k, e := range o.Indices {
			d := s.lengths[e] - o.Values[k]
			loss += d * d
		}
	case fdm.LengthVariation:
		loss = smoothRange(pick(s.lengths, o.Indices), o.Sharpness)
	case fdm.ForceVariation:
		loss = smoothRange(pick(s.forces, o.Indices), o.Sharpness)
	case fdm.SumForceLength:
		for _, e := range o.Indices {
			loss += math.Abs(s.forces[e]) * s.lengths[e]
		}
	case fdm.MinLength, fdm.MaxLength:
		upper := o.Kind == fdm.MaxLength
		for k, e := range o.Indices {
			loss += barrier(s.lengths[e], o.Values[k], sharp, upper)
		}
	case fdm.MinForce, fdm.MaxForce:
		upper := o.Kind == fdm.MaxForce
		for k, e := range o.Indices {
			loss += barrier(s.forces[e], o.Values[k], sharp, upper)
		}
	case fdm.ReactionDirection:
		for k, n := range o.Indices {
			r := vec(s.reactions, n)
			rn := norm(r)
			if rn == 0 {
				continue
			}
			d := unit(vec(o.Targets, k))
			for c := 0; c < 3; c++ {
				diff := r[c]/rn - d[c]
				loss += diff * diff
			}
		}
	case fdm.ReactionDirectionMagnitude:
		for k, n := range o.Indices {
			r := vec(s.reactions, n)
			d := unit(vec(o.Targets, k))
			for c := 0; c < 3; c++ {
				diff := r[c] - o.Values[k]*d[c]
				loss += diff * diff
			}
		}
	}
	return o.Weight * loss
}

// rigidLoss compares shapes after removing the centroid offset of each set.
func rigidLoss(o fdm.Resolved, s *state) float64 {
	n := len(o.Indices)
	if n == 0 {
		return 0
	}
	var cx, ct [3]float64
	for k, i := range o.Indices {
		for c := 0; c < 3; c++ {
			cx[c] += s.xyz[3*i+c] / float64(n)
			ct[c] += o.Targets[3*k+c] / float64(n)
		}
	}
	var loss float64
	for k, i := range o.Indices {
		for c := 0; c < 3; c++ {
			d := (s.xyz[3*i+c] - cx[c]) - (o.Targets[3*k+c] - ct[c])
			loss += d * d
		}
	}
	return loss
}

func pick(vs []float64, idx []int) []float64 {
	out := make([]float64, len(idx))
	for k, i := range idx {
		out[k] = vs[i]
	}
	return out
}

func vec(flat []float64, i int) [3]float64 {
	return [3]float64{flat[3*i], flat[3*i+1], flat[3*i+2]}
}

func norm(v [3]float64) float64 {
	return math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
}

func unit(v [3]float64) [3]float64 {
	n := norm(v)
	if n == 0 {
		return v
	}
	return [3]float64{v[0] / n, v[1] / n, v[2] / n}
}
