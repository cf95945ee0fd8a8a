package joiner

import (
	"sort"
	"sync"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
	"github.com/mash-protocol/meshcop-go/pkg/log"
)

// Policy is the set of joiners a commissioner admits. It is safe for
// concurrent use.
//
// Entries are kept per joiner type, so a MeshCoP and a CCM entry for the
// same device coexist. Lookup resolves a Joiner ID in precedence order: an
// exact EUI-64 match (MeshCoP before CCM), then the matching discerner with
// the most bits, then the AnyMeshCoP entry if one is configured.
type Policy struct {
	mu sync.RWMutex

	// byID holds EUI-64 and CCM joiners keyed by type and Joiner ID.
	byID map[entryKey]Info

	// discerners is kept sorted by decreasing bit length.
	discerners []Info

	any *Info

	strict bool
	logger log.Logger
}

type entryKey struct {
	typ Type
	id  ID
}

// exactTypes is the order in which Lookup tries exact EUI-64 entries.
var exactTypes = []Type{TypeEui64, TypeCcmAE, TypeCcmNmkp}

// PolicyOption configures a Policy.
type PolicyOption func(*Policy)

// WithPolicyLogger sets the logger that receives admission decisions.
func WithPolicyLogger(l log.Logger) PolicyOption {
	return func(p *Policy) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithStrictPSKd makes Add enforce the Thread PSKd format.
func WithStrictPSKd() PolicyOption {
	return func(p *Policy) {
		p.strict = true
	}
}

// NewPolicy returns an empty policy.
func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		byID:   make(map[entryKey]Info),
		logger: log.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Add validates info and admits it, replacing an entry with the same type
// and identity.
func (p *Policy) Add(info Info) error {
	err := p.add(info)
	event := log.Result(log.CategoryAdmission, "add", err)
	event.Detail = info.Label()
	log.Emit(p.logger, event)
	return err
}

func (p *Policy) add(info Info) error {
	if err := ValidateJoiner(info); err != nil {
		return err
	}
	if p.strict && info.Type.MeshCoP() {
		if err := ValidatePSKd(info.PSKd); err != nil {
			return err
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch info.Type {
	case TypeAnyMeshCoP:
		entry := info
		p.any = &entry
	case TypeDiscerner:
		p.removeDiscerner(info.Discerner)
		p.discerners = append(p.discerners, info)
		sort.SliceStable(p.discerners, func(i, j int) bool {
			return p.discerners[i].Discerner.BitLength > p.discerners[j].Discerner.BitLength
		})
	default:
		if info.Eui64 == 0 {
			return errcode.Wrap(errcode.InvalidArgs, ErrMissingEui64, "admit %s joiner", info.Type)
		}
		p.byID[entryKey{info.Type, ComputeJoinerID(info.Eui64)}] = info
	}
	return nil
}

// Remove drops the entry with the same type and identity as info. It
// reports whether an entry was removed.
func (p *Policy) Remove(info Info) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch info.Type {
	case TypeAnyMeshCoP:
		removed := p.any != nil
		p.any = nil
		return removed
	case TypeDiscerner:
		return p.removeDiscerner(info.Discerner)
	default:
		key := entryKey{info.Type, ComputeJoinerID(info.Eui64)}
		if _, ok := p.byID[key]; !ok {
			return false
		}
		delete(p.byID, key)
		return true
	}
}

// removeDiscerner must be called with mu held.
func (p *Policy) removeDiscerner(d Discerner) bool {
	for i, e := range p.discerners {
		if e.Discerner == d {
			p.discerners = append(p.discerners[:i], p.discerners[i+1:]...)
			return true
		}
	}
	return false
}

// Lookup returns the policy entry admitting the joiner with the given ID.
func (p *Policy) Lookup(id ID) (Info, bool) {
	p.mu.RLock()
	info, ok := p.lookup(id)
	p.mu.RUnlock()

	p.logLookup(id, info, ok)
	return info, ok
}

// LookupType is Lookup restricted to entries of joiner type t. For
// TypeDiscerner it returns the longest matching discerner; for
// TypeAnyMeshCoP the catch-all entry.
func (p *Policy) LookupType(t Type, id ID) (Info, bool) {
	p.mu.RLock()
	info, ok := p.lookupType(t, id)
	p.mu.RUnlock()

	p.logLookup(id, info, ok)
	return info, ok
}

func (p *Policy) logLookup(id ID, info Info, ok bool) {
	event := log.Event{
		Category:  log.CategoryAdmission,
		Operation: "lookup",
		JoinerID:  id.String(),
	}
	if ok {
		event.Detail = info.Label()
	} else {
		event.Outcome = log.OutcomeFailure
		event.Code = errcode.Security
		event.Detail = "joiner not permitted"
	}
	log.Emit(p.logger, event)
}

// lookup must be called with mu held.
func (p *Policy) lookup(id ID) (Info, bool) {
	for _, t := range exactTypes {
		if info, ok := p.byID[entryKey{t, id}]; ok {
			return info, true
		}
	}
	if info, ok := p.lookupType(TypeDiscerner, id); ok {
		return info, true
	}
	return p.lookupType(TypeAnyMeshCoP, id)
}

// lookupType must be called with mu held.
func (p *Policy) lookupType(t Type, id ID) (Info, bool) {
	switch t {
	case TypeAnyMeshCoP:
		if p.any != nil {
			return *p.any, true
		}
	case TypeDiscerner:
		for _, info := range p.discerners {
			if MatchesDiscerner(id, info.Discerner) {
				return info, true
			}
		}
	default:
		if info, ok := p.byID[entryKey{t, id}]; ok {
			return info, true
		}
	}
	return Info{}, false
}

// LookupEui64 is Lookup for a joiner known by its EUI-64.
func (p *Policy) LookupEui64(eui64 uint64) (Info, bool) {
	return p.Lookup(ComputeJoinerID(eui64))
}

// Len returns the number of entries.
func (p *Policy) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	n := len(p.byID) + len(p.discerners)
	if p.any != nil {
		n++
	}
	return n
}

// Joiners returns a snapshot of all entries in lookup precedence order.
func (p *Policy) Joiners() []Info {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]Info, 0, len(p.byID)+len(p.discerners)+1)
	for _, info := range p.byID {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Type != out[j].Type {
			return out[i].Type < out[j].Type
		}
		return out[i].Eui64 < out[j].Eui64
	})
	out = append(out, p.discerners...)
	if p.any != nil {
		out = append(out, *p.any)
	}
	return out
}
