package evolve

import (
	"math"
	"math/rand"

	"github.com/fortiblox/genvm/pkg/asm"
)

// Operators holds the genetic operators and their random source. It is
// not safe for concurrent use.
type Operators struct {
	cfg  Config
	rng  *rand.Rand
	seed []byte
}

// NewOperators creates operators drawing from rng.
func NewOperators(cfg Config, rng *rand.Rand) *Operators {
	return &Operators{cfg: cfg, rng: rng, seed: asm.NelderMead()}
}

// exponential draws from an exponential distribution with the given mean.
func (o *Operators) exponential(mean float64) float64 {
	if mean <= 0 {
		return 0
	}
	return o.rng.ExpFloat64() * mean
}

// evenLength draws an even length of at least 2 with roughly the given mean.
func (o *Operators) evenLength(mean float64) int {
	return int(math.Round(o.exponential(mean/2)))*2 + 2
}

// anyLength draws a length of at least 1 with roughly the given mean.
func (o *Operators) anyLength(mean float64) int {
	return int(math.Round(o.exponential(mean))) + 1
}

func (o *Operators) randomBytes(n int) []byte {
	b := make([]byte, n)
	o.rng.Read(b)
	return b
}

// Create returns a new genome: occasionally the Nelder-Mead seed, otherwise
// random bytes of even length.
func (o *Operators) Create() []byte {
	if o.rng.Float64() < o.cfg.SeedProbability {
		return append([]byte(nil), o.seed...)
	}
	n := o.cfg.MinInitialLength + o.rng.Intn(o.cfg.MaxInitialLength-o.cfg.MinInitialLength)
	return o.randomBytes(n / 2 * 2)
}

// Mutate returns an edited copy of genome. The number of edits grows with
// the genome length; each edit inserts, replaces, deletes or duplicates a
// run of bytes.
func (o *Operators) Mutate(genome []byte) []byte {
	out := append([]byte(nil), genome...)
	n := int(math.Round(o.exponential(float64(len(out))*o.cfg.MutatePercent))) + 1
	for i := 0; i < n; i++ {
		out = o.mutateOnce(out)
	}
	return out
}

func (o *Operators) mutateOnce(v []byte) []byte {
	switch o.rng.Intn(4) {
	case 0: // insert
		pos := o.rng.Intn(len(v) + 1)
		return splice(v, pos, pos, o.randomBytes(o.evenLength(o.cfg.AverageMutationLength)))
	case 1: // replace
		pos := o.rng.Intn(len(v) + 1)
		n := o.anyLength(o.cfg.AverageMutationLength)
		return splice(v, pos, pos+n, o.randomBytes(n))
	case 2: // delete
		pos := o.rng.Intn(len(v) + 1)
		return splice(v, pos, pos+o.evenLength(o.cfg.AverageMutationLength), nil)
	default: // duplicate
		n := o.evenLength(o.cfg.AverageDuplicateLength)
		src := o.rng.Intn(len(v)/2+1) * 2
		dst := o.rng.Intn(len(v)/2+1) * 2
		dup := append([]byte(nil), v[src:min(src+n, len(v))]...)
		return splice(v, dst, dst, dup)
	}
}

// splice replaces v[from:to] with repl, clamping the range to v.
func splice(v []byte, from, to int, repl []byte) []byte {
	from = min(from, len(v))
	to = min(max(to, from), len(v))
	out := make([]byte, 0, len(v)-(to-from)+len(repl))
	out = append(out, v[:from]...)
	out = append(out, repl...)
	return append(out, v[to:]...)
}

// Crossover cuts both parents and swaps their tails. The cut in b is the
// position within CrossoverRadius of the cut in a whose following bytes
// best match the bytes following the cut in a.
func (o *Operators) Crossover(a, b []byte) ([]byte, []byte) {
	i := 0
	if len(a) > 0 {
		i = o.rng.Intn(len(a))
	}
	sig := a[i:min(i+o.cfg.CrossoverSignature, len(a))]

	lo := max(0, i-o.cfg.CrossoverRadius)
	hi := min(len(b), i+o.cfg.CrossoverRadius)
	j := 0
	switch {
	case lo >= hi:
		if len(b) > 0 {
			j = o.rng.Intn(len(b))
		}
	default:
		j = lo
		best := math.Inf(1)
		for k := lo; k < hi; k++ {
			if s := similarity(sig, b[k:min(k+o.cfg.CrossoverSignature, len(b))]); s < best {
				best, j = s, k
			}
		}
	}

	ia := min(i, len(b))
	c1 := append(append([]byte(nil), a[:i]...), b[j:]...)
	c2 := append(append([]byte(nil), b[:ia]...), a[min(j, len(a)):]...)
	return c1, c2
}

// similarity is the mean absolute byte difference over the common prefix.
// Lower is more similar.
func similarity(x, y []byte) float64 {
	n := min(len(x), len(y))
	if n == 0 {
		return 0
	}
	sum := 0
	for k := 0; k < n; k++ {
		d := int(x[k]) - int(y[k])
		if d < 0 {
			d = -d
		}
		sum += d
	}
	return float64(sum) / float64(n)
}

// truncate limits genome to n bytes.
func truncate(genome []byte, n int) []byte {
	if len(genome) > n {
		return genome[:n]
	}
	return genome
}
