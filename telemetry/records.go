package telemetry

// StepRecord is the per-step log harvested by callers after each tick.
// The nested slices are written to their own tables and files.
type StepRecord struct {
	GameID            string  `csv:"game_id" db:"game_id" json:"game_id"`
	Step              int     `csv:"step" db:"step" json:"step"`
	TimeHours         float64 `csv:"time_hours" db:"time_hours" json:"time_hours"`
	HoursPerStep      float64 `csv:"hours_per_step" db:"hours_per_step" json:"hours_per_step"`
	IsTerminated      bool    `csv:"is_terminated" db:"is_terminated" json:"is_terminated"`
	TerminationReason string  `csv:"termination_reason" db:"termination_reason" json:"termination_reason"`

	Populations []PopulationRecord `csv:"-" db:"-" json:"populations"`
	Storages    []StorageRecord    `csv:"-" db:"-" json:"storages"`
	Exchanges   []ExchangeRecord   `csv:"-" db:"-" json:"exchanges"`
}

// PopulationRecord counts the instances of one agent type.
type PopulationRecord struct {
	GameID    string `csv:"game_id" db:"game_id" json:"-"`
	Step      int    `csv:"step" db:"step" json:"-"`
	AgentType string `csv:"agent_type" db:"agent_type" json:"agent_type"`
	Amount    int    `csv:"amount" db:"amount" json:"amount"` // sum of instance counts
	Agents    int    `csv:"agents" db:"agents" json:"agents"` // entities
}

// StorageRecord is one currency balance in one storage at step end.
type StorageRecord struct {
	GameID      string  `csv:"game_id" db:"game_id" json:"-"`
	Step        int     `csv:"step" db:"step" json:"-"`
	StorageID   uint64  `csv:"storage_id" db:"storage_id" json:"storage_id"`
	StorageType string  `csv:"storage_type" db:"storage_type" json:"storage_type"`
	Currency    string  `csv:"currency" db:"currency" json:"currency"`
	Balance     float64 `csv:"balance" db:"balance" json:"balance"`
	Capacity    float64 `csv:"capacity" db:"capacity" json:"capacity"`
}

// ExchangeRecord is one ledger line: a quantity moved between an agent and
// a storage.
type ExchangeRecord struct {
	GameID      string  `csv:"game_id" db:"game_id" json:"-"`
	Step        int     `csv:"step" db:"step" json:"-"`
	AgentID     uint64  `csv:"agent_id" db:"agent_id" json:"agent_id"`
	AgentType   string  `csv:"agent_type" db:"agent_type" json:"agent_type"`
	Attr        string  `csv:"attr" db:"attr" json:"attr"`
	Currency    string  `csv:"currency" db:"currency" json:"currency"`
	StorageID   uint64  `csv:"storage_id" db:"storage_id" json:"storage_id"`
	StorageType string  `csv:"storage_type" db:"storage_type" json:"storage_type"`
	Amount      float64 `csv:"amount" db:"amount" json:"amount"`
}

// DeathRecord summarizes an agent removed from the habitat.
type DeathRecord struct {
	GameID    string  `csv:"game_id" db:"game_id" json:"game_id"`
	Step      int     `csv:"step" db:"step" json:"step"`
	AgentID   uint64  `csv:"agent_id" db:"agent_id" json:"agent_id"`
	AgentType string  `csv:"agent_type" db:"agent_type" json:"agent_type"`
	Cause     string  `csv:"cause" db:"cause" json:"cause"`
	BirthStep int     `csv:"birth_step" db:"birth_step" json:"birth_step"`
	Aborts    int     `csv:"aborts" db:"aborts" json:"aborts"`
	Stalls    int     `csv:"stalls" db:"stalls" json:"stalls"`
	Consumed  float64 `csv:"consumed" db:"consumed" json:"consumed"`
	Produced  float64 `csv:"produced" db:"produced" json:"produced"`
}
