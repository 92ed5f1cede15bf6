package game

import (
	"fmt"
	"math"
	"slices"

	"github.com/mlange-42/ark/ecs"

	"github.com/pthm-cable/habitat/components"
	"github.com/pthm-cable/habitat/config"
	"github.com/pthm-cable/habitat/currency"
	"github.com/pthm-cable/habitat/growth"
	"github.com/pthm-cable/habitat/systems"
	"github.com/pthm-cable/habitat/variation"
)

// invalid wraps a factory failure as a configuration error.
func invalid(agentType string, err error) error {
	return fmt.Errorf("%w: agent %q: %w", config.ErrInvalid, agentType, err)
}

// spawnRecipe creates every recipe entry. Storages and identities come
// first so flows can connect to agents declared later in the recipe.
func (g *Game) spawnRecipe() error {
	type pending struct {
		entity ecs.Entity
		at     *config.AgentTypeConfig
		iv     float64
	}
	var flows []pending

	for _, entry := range g.cfg.Recipe {
		at, ok := g.cfg.AgentType(entry.Type)
		if !ok {
			return fmt.Errorf("%w: recipe: unknown agent type %q", config.ErrInvalid, entry.Type)
		}
		if !slices.Contains(g.recipeTypes, at.Name) {
			g.recipeTypes = append(g.recipeTypes, at.Name)
		}

		copies, amount := 1, entry.Amount
		if !g.cfg.Simulation.SingleAgent {
			copies, amount = entry.Amount, 1
		}
		for range copies {
			iv := g.initialVariable(at)
			e, err := g.spawnAgent(at, amount, iv, entry.Balance, copies)
			if err != nil {
				return err
			}
			if at.Kind != "storage" {
				flows = append(flows, pending{entity: e, at: at, iv: iv})
			}
		}
	}

	for _, p := range flows {
		if err := g.attachFlow(p.entity, p.at, p.iv); err != nil {
			return err
		}
	}
	return nil
}

// initialVariable draws the per-agent multiplier applied to flows and
// listed characteristics.
func (g *Game) initialVariable(at *config.AgentTypeConfig) float64 {
	entropy := g.cfg.Simulation.GlobalEntropy
	if at.Variation == nil || at.Variation.Initial == nil || entropy == 0 {
		return 1
	}
	spec := at.Variation.Initial.Spec.Scaled(entropy)
	if spec.IsZero() {
		return 1
	}
	return variation.Draw(g.src, spec)
}

func hasCharacteristic(at *config.AgentTypeConfig, name string) bool {
	if at.Variation == nil || at.Variation.Initial == nil {
		return false
	}
	return slices.Contains(at.Variation.Initial.Characteristics, name)
}

// spawnAgent creates the identity and storage of one agent. balance is the
// recipe total, split evenly over copies.
func (g *Game) spawnAgent(at *config.AgentTypeConfig, amount int, iv float64, balance map[string]float64, copies int) (ecs.Entity, error) {
	agent := components.Agent{
		ID:     g.nextID,
		Type:   at.Name,
		TypeID: g.cfg.Derived.AgentTypeID[at.Name],
		Class:  at.Class,
		Amount: amount,
		Active: true,
	}
	g.nextID++

	var storage *components.Storage
	if len(at.Capacity) > 0 {
		capacity := make(map[string]float64, len(at.Capacity))
		for c, v := range at.Capacity {
			if hasCharacteristic(at, "capacity_"+c) {
				v *= iv
			}
			capacity[c] = v
		}
		s, err := components.NewStorage(g.cfg.Derived.Catalog, g.capacityOrder(capacity), capacity)
		if err != nil {
			return ecs.Entity{}, invalid(at.Name, err)
		}
		for c, v := range balance {
			if !s.Holds(c) {
				return ecs.Entity{}, invalid(at.Name, fmt.Errorf("initial balance for %q without capacity", c))
			}
			s.Balance[c] = v / float64(copies)
		}
		s.Clamp(amount)
		storage = &s
	} else if len(balance) > 0 {
		return ecs.Entity{}, invalid(at.Name, fmt.Errorf("initial balance without capacity"))
	}

	e := g.agentMap.NewEntity(&agent)
	if storage != nil {
		g.storageMap.Add(e, storage)
	}
	g.order = append(g.order, e)
	g.byID[agent.ID] = e
	g.lifetimeTracker.Register(agent.ID, g.step, agent.Type, agent.Amount)
	return e, nil
}

// capacityOrder lists capacity currencies in catalog order.
func (g *Game) capacityOrder(capacity map[string]float64) []string {
	order := make([]string, 0, len(capacity))
	for _, name := range g.cfg.Derived.Catalog.Names() {
		if _, ok := capacity[name]; ok {
			order = append(order, name)
		}
	}
	return order
}

// attachFlow wires a flow agent: connections, curves, events and, for
// plants, the growth cycle.
func (g *Game) attachFlow(e ecs.Entity, at *config.AgentTypeConfig, iv float64) error {
	agent := g.agentMap.Get(e)
	flow, err := g.flowTemplate(at, iv)
	if err != nil {
		return invalid(at.Name, err)
	}

	var plant *components.Plant
	nSteps := g.cfg.Derived.StepsPerDay
	if at.Kind == "plant" {
		plant, nSteps = g.plantTemplate(at, iv, agent.Amount)
	}

	for i := range flow.Exchanges {
		ex := &flow.Exchanges[i]
		fc := &at.Flows[i]
		ex.Storages, err = g.connect(e, at, fc)
		if err != nil {
			return invalid(at.Name, err)
		}
		var spec growth.Spec
		if fc.Growth != nil {
			spec = *fc.Growth
		}
		ex.StepValues, err = growth.StepValues(ex.Value, nSteps, g.cfg.Derived.StepsPerDay, spec, g.noiseSeed)
		if err != nil {
			return invalid(at.Name, fmt.Errorf("%s: %w", ex.Attr, err))
		}
		if ex.DepriveValue > 0 {
			flow.Deprive[ex.Attr] = ex.DepriveValue * float64(agent.Amount)
		}
	}

	if plant != nil {
		if ex, ok := flow.Exchange(plant.GrowthCriteria); ok {
			for _, v := range ex.StepValues {
				plant.TotalGrowth += v
			}
		}
	}

	// Adding components moves the entity; fetch nothing across these calls.
	g.flowMap.Add(e, &flow)
	if plant != nil {
		g.plantMap.Add(e, plant)
	}
	return nil
}

func (g *Game) noiseSeed() int64 {
	return int64(g.rng.Uint64())
}

// connect resolves a flow's connection list to storage entities. A
// connection naming the agent's own type links to the agent itself.
func (g *Game) connect(self ecs.Entity, at *config.AgentTypeConfig, fc *config.FlowConfig) ([]ecs.Entity, error) {
	var out []ecs.Entity
	for _, name := range fc.Connections {
		if name == at.Name {
			if !g.storageMap.Has(self) {
				return nil, fmt.Errorf("%s: self connection without storage", fc.Attr)
			}
			out = append(out, self)
			continue
		}
		found := false
		for _, e := range g.order {
			if a := g.agentMap.Get(e); a.Type == name && g.storageMap.Has(e) {
				out = append(out, e)
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("%s: missing connection %q in recipe", fc.Attr, name)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s: no connections", fc.Attr)
	}
	return out, nil
}

// flowTemplate builds the static part of a Flow from config. Storages,
// curves and budgets are filled in by the caller. iv scales every rate.
func (g *Game) flowTemplate(at *config.AgentTypeConfig, iv float64) (components.Flow, error) {
	d := &g.cfg.Derived
	entropy := g.cfg.Simulation.GlobalEntropy

	flow := components.Flow{
		CustomFunction:  at.CustomFunction,
		StepVariable:    1,
		InitialVariable: iv,
		Deprive:         make(map[string]float64),
		Buffer:          make(map[string]float64),
	}
	if at.CustomFunction != "" {
		if _, err := g.functions.Lookup(at.CustomFunction); err != nil {
			return flow, err
		}
	}

	for _, fc := range at.Flows {
		ex, err := g.exchangeTemplate(&fc, iv)
		if err != nil {
			return flow, err
		}
		if ex.Criteria != nil && ex.Criteria.Buffer > 0 {
			flow.Buffer[ex.Attr] = ex.Criteria.Buffer
		}
		flow.Exchanges = append(flow.Exchanges, ex)
	}

	for _, th := range at.Thresholds {
		flow.Thresholds = append(flow.Thresholds, components.Threshold{
			Upper:    th.Kind == "upper",
			Currency: th.Currency,
			Value:    th.Value,
		})
	}

	for _, ec := range at.Events {
		kind, err := components.ParseEventKind(ec.Kind)
		if err != nil {
			return flow, fmt.Errorf("event %q: %w", ec.Name, err)
		}
		mult, ok := eventUnitPerHour(ec.Probability.Unit, d.DayLengthHours)
		if !ok {
			return flow, fmt.Errorf("event %q: unknown unit %q", ec.Name, ec.Probability.Unit)
		}
		spec := components.EventSpec{
			Name:               ec.Name,
			Kind:               kind,
			Group:              ec.Scope == "group",
			ProbabilityPerStep: ec.Probability.Value * d.HoursPerStep * mult,
			Magnitude:          ec.Magnitude,
			MagnitudeVariation: ec.MagnitudeVariation,
			DurationVariation:  ec.DurationVariation,
		}
		if ec.Duration != nil {
			dm, ok := eventUnitPerHour(ec.Duration.Unit, d.DayLengthHours)
			if !ok {
				return flow, fmt.Errorf("event %q: unknown duration unit %q", ec.Name, ec.Duration.Unit)
			}
			spec.Duration = ec.Duration.Value
			spec.DurationDelta = d.HoursPerStep * dm
		}
		flow.Events = append(flow.Events, spec)
	}
	flow.ProcessEvents = len(flow.Events) > 0

	if at.Variation != nil && at.Variation.Step != nil && entropy != 0 {
		spec := at.Variation.Step.Scaled(entropy)
		if !spec.IsZero() {
			flow.StepVariation = &spec
		}
	}
	return flow, nil
}

// exchangeTemplate converts one flow declaration to per-step quantities in
// the currency's own unit.
func (g *Game) exchangeTemplate(fc *config.FlowConfig, iv float64) (components.Exchange, error) {
	d := &g.cfg.Derived
	dir, cur, err := components.ParseAttr(fc.Attr)
	if err != nil {
		return components.Exchange{}, err
	}
	view, err := d.Catalog.View(cur)
	if err != nil {
		return components.Exchange{}, fmt.Errorf("%s: %w", fc.Attr, err)
	}
	curUnit, err := d.Catalog.Unit(cur)
	if err != nil {
		return components.Exchange{}, fmt.Errorf("%s: %w", fc.Attr, err)
	}
	perStep, ok := flowStepFactor(fc.Time, d.HoursPerStep, d.DayLengthHours)
	if !ok {
		return components.Exchange{}, fmt.Errorf("%s: unknown time unit %q", fc.Attr, fc.Time)
	}
	value := fc.Value * perStep
	if fc.Unit != "" && fc.Unit != curUnit {
		if !currency.Compatible(fc.Unit, curUnit) {
			return components.Exchange{}, fmt.Errorf("%s: unit %q does not match %q", fc.Attr, fc.Unit, curUnit)
		}
		value = currency.Normalize(value, fc.Unit) / currency.Normalize(1, curUnit)
	}
	required, err := components.ParseRequired(fc.Required)
	if err != nil {
		return components.Exchange{}, fmt.Errorf("%s: %w", fc.Attr, err)
	}

	ex := components.Exchange{
		Attr:      fc.Attr,
		Direction: dir,
		Currency:  cur,
		View:      view,
		Unit:      curUnit,
		Value:     value * iv,
		Requires:  fc.Requires,
		Required:  required,
		Weighted:  fc.Weighted,
	}
	if fc.Criteria != nil {
		c := components.Criteria{
			Source: fc.Criteria.Name,
			Op:     fc.Criteria.Limit,
			Value:  fc.Criteria.Value,
			Buffer: fc.Criteria.Buffer,
		}
		if err := systems.ValidateCriteria(c); err != nil {
			return components.Exchange{}, fmt.Errorf("%s: %w", fc.Attr, err)
		}
		ex.Criteria = &c
	}
	if fc.Weighted != "" && !systems.IsProperty(fc.Weighted) {
		return components.Exchange{}, fmt.Errorf("%s: weighted by unknown property %q", fc.Attr, fc.Weighted)
	}
	if fc.Deprive != nil && fc.Deprive.Value > 0 {
		mult, ok := eventUnitPerHour(fc.Deprive.Unit, d.DayLengthHours)
		if !ok {
			return components.Exchange{}, fmt.Errorf("%s: unknown deprive unit %q", fc.Attr, fc.Deprive.Unit)
		}
		ex.DepriveValue = fc.Deprive.Value
		ex.DepriveDelta = d.HoursPerStep * mult
	}
	return ex, nil
}

// plantTemplate builds the growth cycle of a plant and returns it with the
// number of steps in one cycle.
func (g *Game) plantTemplate(at *config.AgentTypeConfig, iv float64, amount int) (*components.Plant, int) {
	d := &g.cfg.Derived
	pc := at.Plant
	hours := pc.Lifetime
	switch pc.LifetimeUnit {
	case "min":
		hours /= 60
	case "day":
		hours *= math.Floor(d.DayLengthHours)
	}
	if hasCharacteristic(at, "lifetime") {
		hours *= iv
	}
	nSteps := max(config.WholeSteps(hours, d.HoursPerStep), 1)

	p := &components.Plant{
		Lifetime:       float64(nSteps) * d.HoursPerStep,
		FullAmount:     amount,
		Reproduce:      pc.Reproduce,
		GrowthCriteria: pc.GrowthCriteria,
		CarbonFixation: pc.CarbonFixation,
		CO2Scale:       make(map[string]float64, len(at.Flows)),
	}
	for _, fc := range at.Flows {
		p.CO2Scale[fc.Attr] = 1
	}
	return p, nSteps
}

// flowStepFactor converts a rate per time unit to a rate per step.
func flowStepFactor(unit string, hoursPerStep, dayLengthHours float64) (float64, bool) {
	switch unit {
	case "min":
		return hoursPerStep * 60, true
	case "hour":
		return hoursPerStep, true
	case "day":
		return hoursPerStep / dayLengthHours, true
	}
	return 0, false
}

// eventUnitPerHour is how many units of a rate elapse per model hour.
// Days count whole hours only.
func eventUnitPerHour(unit string, dayLengthHours float64) (float64, bool) {
	switch unit {
	case "min":
		return 60, true
	case "hour":
		return 1, true
	case "day":
		return 1 / float64(max(int(dayLengthHours), 1)), true
	}
	return 0, false
}
