package multiplier

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"tycoon/internal/num"
)

var (
	ErrUnknownCategory = errors.New("unknown multiplier category")
	ErrInvalidCategory = errors.New("invalid multiplier category")
	ErrInvalidRule     = errors.New("invalid combine rule")
	ErrInvalidKind     = errors.New("invalid contribution kind")

	ErrInvalidContribution = errors.New("invalid contribution")
)

// minGroupFactor bounds a summed additive group away from zero so a stack of
// penalties can never zero or flip a multiplier.
var minGroupFactor = num.MustParse("0.01")

type Kind string

const (
	KindSkill       Kind = "skill"
	KindPrestige    Kind = "prestige"
	KindPerk        Kind = "perk"
	KindEra         Kind = "era"
	KindMilestone   Kind = "milestone"
	KindEvent       Kind = "event"
	KindAchievement Kind = "achievement"
	KindUpgrade     Kind = "upgrade"
)

// PrestigeKinds survive a prestige reset.
var PrestigeKinds = []Kind{KindPrestige, KindPerk, KindEra, KindMilestone}

func (k Kind) valid() bool {
	switch k {
	case KindSkill, KindPrestige, KindPerk, KindEra, KindMilestone, KindEvent, KindAchievement, KindUpgrade:
		return true
	}
	return false
}

type Contribution struct {
	ID       string      `json:"id"`
	Source   string      `json:"source"`
	Kind     Kind        `json:"kind"`
	Category string      `json:"category"`
	Value    num.Decimal `json:"value"`
	Mode     Rule        `json:"mode,omitempty"`
}

type Factor struct {
	ID     string      `json:"id"`
	Source string      `json:"source"`
	Kind   Kind        `json:"kind"`
	Mode   Rule        `json:"mode"`
	Value  num.Decimal `json:"value"`
	Factor num.Decimal `json:"factor"`
}

type Engine struct {
	mu            sync.RWMutex
	categories    map[string]Category
	contributions []Contribution
	cache         map[string]num.Decimal
}

func NewEngine(categories ...Category) (*Engine, error) {
	e := &Engine{
		categories: make(map[string]Category, len(categories)),
		cache:      make(map[string]num.Decimal),
	}
	for _, c := range categories {
		if err := e.Register(c); err != nil {
			return nil, err
		}
	}
	return e, nil
}

func (e *Engine) Register(c Category) error {
	c.Name = strings.TrimSpace(c.Name)
	if err := c.validate(); err != nil {
		return err
	}
	c.Rule = c.rule()
	e.mu.Lock()
	defer e.mu.Unlock()
	e.categories[c.Name] = c
	delete(e.cache, c.Name)
	return nil
}

func (e *Engine) Categories() []Category {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Category, 0, len(e.categories))
	for _, c := range e.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Validate reports every name that is not registered, so wiring mistakes
// are caught at startup rather than folding to identity silently.
func (e *Engine) Validate(names ...string) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var missing []string
	for _, n := range names {
		if _, ok := e.categories[n]; !ok {
			missing = append(missing, n)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrUnknownCategory, strings.Join(missing, ", "))
	}
	return nil
}

func (e *Engine) Add(c Contribution) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(c); err != nil {
		return "", err
	}
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	replaced := false
	for i := range e.contributions {
		if e.contributions[i].ID == c.ID {
			delete(e.cache, e.contributions[i].Category)
			e.contributions[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		e.contributions = append(e.contributions, c)
	}
	delete(e.cache, c.Category)
	return c.ID, nil
}

func (e *Engine) checkLocked(c Contribution) error {
	if _, ok := e.categories[c.Category]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownCategory, c.Category)
	}
	if !c.Kind.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidKind, c.Kind)
	}
	if c.Mode != "" && !c.Mode.valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRule, c.Mode)
	}
	if strings.TrimSpace(c.Source) == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidContribution)
	}
	if c.Value.Lte(num.One.Neg()) {
		return fmt.Errorf("%w: value %s must be greater than -1", ErrInvalidContribution, c.Value)
	}
	return nil
}

func (e *Engine) Remove(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(func(c Contribution) bool { return c.ID == id }) > 0
}

func (e *Engine) RemoveSource(source string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(func(c Contribution) bool { return c.Source == source })
}

func (e *Engine) ClearKinds(kinds ...Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(func(c Contribution) bool { return hasKind(kinds, c.Kind) })
}

// ClearExcept drops every contribution whose kind is not in keep.
func (e *Engine) ClearExcept(keep ...Kind) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(func(c Contribution) bool { return !hasKind(keep, c.Kind) })
}

func (e *Engine) removeLocked(match func(Contribution) bool) int {
	kept := e.contributions[:0]
	removed := 0
	for _, c := range e.contributions {
		if match(c) {
			delete(e.cache, c.Category)
			removed++
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(e.contributions); i++ {
		e.contributions[i] = Contribution{}
	}
	e.contributions = kept
	return removed
}

func hasKind(kinds []Kind, k Kind) bool {
	for _, v := range kinds {
		if v == k {
			return true
		}
	}
	return false
}

// Multiplier folds every active contribution of category. A category with
// nothing active, registered or not, is exactly 1.
func (e *Engine) Multiplier(category string) num.Decimal {
	e.mu.RLock()
	if v, ok := e.cache[category]; ok {
		e.mu.RUnlock()
		return v
	}
	e.mu.RUnlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.cache[category]; ok {
		return v
	}
	cat, ok := e.categories[category]
	if !ok {
		return num.One
	}
	v := Fold(cat, e.matchingLocked(category))
	e.cache[category] = v
	return v
}

// Breakdown lists the contributions of category with the factor each one
// applies. Multiplicative entries apply 1+value on their own. Additive
// entries are summed into one group factor, which is reported on the first
// additive entry while the rest report 1. The product of every Factor is
// the multiplier before the category floor.
func (e *Engine) Breakdown(category string) []Factor {
	e.mu.RLock()
	defer e.mu.RUnlock()
	cat, ok := e.categories[category]
	if !ok {
		return nil
	}
	matching := e.matchingLocked(category)
	sum := num.Zero
	for _, c := range matching {
		if modeOf(cat, c) == RuleAdditive {
			sum = sum.Add(c.Value)
		}
	}
	out := make([]Factor, 0, len(matching))
	groupReported := false
	for _, c := range matching {
		mode := modeOf(cat, c)
		factor := num.One.Add(c.Value)
		if mode == RuleAdditive {
			factor = num.One
			if !groupReported {
				factor = groupFactor(sum)
				groupReported = true
			}
		}
		out = append(out, Factor{
			ID:     c.ID,
			Source: c.Source,
			Kind:   c.Kind,
			Mode:   mode,
			Value:  c.Value,
			Factor: factor,
		})
	}
	return out
}

func groupFactor(sum num.Decimal) num.Decimal {
	return num.Max(num.One.Add(sum), minGroupFactor)
}

func (e *Engine) matchingLocked(category string) []Contribution {
	var out []Contribution
	for _, c := range e.contributions {
		if c.Category == category {
			out = append(out, c)
		}
	}
	return out
}

// Contributions returns the active set in insertion order for persistence.
func (e *Engine) Contributions() []Contribution {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Contribution, len(e.contributions))
	copy(out, e.contributions)
	return out
}

// Restore replaces the active set. It is all-or-nothing: on error the
// previous contributions stay in place.
func (e *Engine) Restore(list []Contribution) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	seen := make(map[string]struct{}, len(list))
	next := make([]Contribution, 0, len(list))
	for _, c := range list {
		if err := e.checkLocked(c); err != nil {
			return fmt.Errorf("restore contribution %s: %w", c.ID, err)
		}
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("restore contribution %s: duplicate id", c.ID)
		}
		seen[c.ID] = struct{}{}
		next = append(next, c)
	}
	e.contributions = next
	e.cache = make(map[string]num.Decimal)
	return nil
}

func modeOf(cat Category, c Contribution) Rule {
	if c.Mode != "" {
		return c.Mode
	}
	return cat.rule()
}

// Fold combines contributions under the category's rule: multiplicative ones
// as a product of (1+v), additive ones as a single (1+Σv) factor.
func Fold(cat Category, contributions []Contribution) num.Decimal {
	product := num.One
	additive := num.Zero
	hasAdditive := false
	for _, c := range contributions {
		switch modeOf(cat, c) {
		case RuleAdditive:
			additive = additive.Add(c.Value)
			hasAdditive = true
		default:
			product = product.Mul(num.One.Add(c.Value))
		}
	}
	if hasAdditive {
		product = product.Mul(groupFactor(additive))
	}
	if cat.Floor.IsPositive() && product.Lt(cat.Floor) {
		return cat.Floor
	}
	return product
}
