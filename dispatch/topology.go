package dispatch

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/google/uuid"
)

// ErrMalformedToken is returned when the topology file contains a
// record this parser does not recognise; a malformed token aborts
// startup with a diagnostic.
var ErrMalformedToken = errors.New("dispatch: malformed topology token")

// Topology is the physical adjacency graph plus the symbol<->uuid
// binding loaded once at startup.
type Topology struct {
	SymbolToUUID map[string]uuid.UUID
	neighbours   map[string]map[string]struct{}
	maxDegree    int
}

// LoadTopology parses whitespace-separated "edge s1 s2" and
// "sst symbol uuid" tokens from r. Called exactly once at startup; the
// parsed graph never changes over a node's lifetime.
func LoadTopology(r io.Reader) (*Topology, error) {
	t := &Topology{
		SymbolToUUID: make(map[string]uuid.UUID),
		neighbours:   make(map[string]map[string]struct{}),
	}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		fields := splitFields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "edge":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedToken, line)
			}
			t.addEdge(fields[1], fields[2])
		case "sst":
			if len(fields) != 3 {
				return nil, fmt.Errorf("%w: %q", ErrMalformedToken, line)
			}
			id, err := uuid.Parse(fields[2])
			if err != nil {
				return nil, fmt.Errorf("%w: %q: %v", ErrMalformedToken, line, err)
			}
			t.SymbolToUUID[fields[1]] = id
		default:
			return nil, fmt.Errorf("%w: %q", ErrMalformedToken, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("dispatch: read topology: %w", err)
	}

	for _, n := range t.neighbours {
		if len(n) > t.maxDegree {
			t.maxDegree = len(n)
		}
	}

	return t, nil
}

func (t *Topology) addEdge(a, b string) {
	t.ensure(a)
	t.ensure(b)
	t.neighbours[a][b] = struct{}{}
	t.neighbours[b][a] = struct{}{}
}

func (t *Topology) ensure(symbol string) {
	if _, ok := t.neighbours[symbol]; !ok {
		t.neighbours[symbol] = make(map[string]struct{})
	}
}

// Neighbours returns N(self), sorted for deterministic iteration.
func (t *Topology) Neighbours(symbol string) []string {
	set := t.neighbours[symbol]
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MaxDegree is Δ_max, the maximum degree of the adjacency graph.
func (t *Topology) MaxDegree() int {
	return t.maxDegree
}

// splitFields tokenises on any run of whitespace, unlike strings.Fields
// only in that it is named locally to keep the grammar obvious at the
// call site.
func splitFields(line string) []string {
	var fields []string
	start := -1
	for i, r := range line {
		if r == ' ' || r == '\t' || r == '\r' {
			if start >= 0 {
				fields = append(fields, line[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		fields = append(fields, line[start:])
	}
	return fields
}
