package config

import "time"

// Settings are the engine-wide knobs, read once from the environment at
// startup. Per-zone parameters live in the zones file (see zones.go).
type Settings struct {
	TopicPrefix string // root of the MQTT surface, default "cropsteer"

	// Decision loop.
	TickInterval       time.Duration
	SnapshotStaleAfter time.Duration

	// Sensor fusion.
	DisagreementVWC float64 // front/back VWC spread that flags disagreement

	// Hard limits enforced at the boundary.
	MaxShotSeconds    float64
	MinShotInterval   time.Duration
	HourlyShotCap     int
	OversaturationVWC float64
	ECMaxMScm         float64

	// Advisory oracle.
	AdvisoryEnabled       bool
	AdvisoryBaseURL       string
	AdvisoryAPIKey        string
	AdvisoryModel         string
	AdvisoryTimeout       time.Duration
	ConfidenceThreshold   float64
	DailyBudgetUSD        float64
	CostPerCallUSD        float64
	CacheTTL              time.Duration
	CacheVWCStep          float64 // similarity rounding granularity, tunable
	CacheECStep           float64
	MaxConsecutiveAdvised int

	// Learning.
	LearningProfilePath  string
	LearningSettleWait   time.Duration
	SaturationGainPerL   float64 // gain/L below which the substrate is saturating
	SaturationConsecut   int     // sustained shots below threshold = plateau
	CapacityRunInterval  time.Duration
	EfficiencyRunTimeout time.Duration
}

// Defaults mirror the documented hard limits: 300 s shot cap, 5 min between
// shots, 10 shots per rolling hour, 75% oversaturation ceiling.
func DefaultSettings() Settings {
	return Settings{
		TopicPrefix:        "cropsteer",
		TickInterval:       time.Minute,
		SnapshotStaleAfter: 5 * time.Minute,

		DisagreementVWC: 15.0,

		MaxShotSeconds:    300,
		MinShotInterval:   5 * time.Minute,
		HourlyShotCap:     10,
		OversaturationVWC: 75.0,
		ECMaxMScm:         9.0,

		AdvisoryEnabled:       false,
		AdvisoryBaseURL:       "https://api.openai.com/v1",
		AdvisoryModel:         "gpt-4o-mini",
		AdvisoryTimeout:       20 * time.Second,
		ConfidenceThreshold:   0.8,
		DailyBudgetUSD:        1.0,
		CostPerCallUSD:        0.01,
		CacheTTL:              15 * time.Minute,
		CacheVWCStep:          1.0,
		CacheECStep:           0.1,
		MaxConsecutiveAdvised: 10,

		LearningProfilePath:  "data/learning-profiles.json",
		LearningSettleWait:   10 * time.Minute,
		SaturationGainPerL:   0.5,
		SaturationConsecut:   3,
		CapacityRunInterval:  24 * time.Hour,
		EfficiencyRunTimeout: 2 * time.Hour,
	}
}

// FromEnv overlays environment values on the defaults.
func FromEnv() Settings {
	s := DefaultSettings()
	s.TopicPrefix = EnvStr("TOPIC_PREFIX", s.TopicPrefix)
	s.TickInterval = EnvDuration("TICK_INTERVAL", s.TickInterval)
	s.SnapshotStaleAfter = EnvDuration("SNAPSHOT_STALE_AFTER", s.SnapshotStaleAfter)
	s.DisagreementVWC = EnvFloat("DISAGREEMENT_VWC_PCT", s.DisagreementVWC)
	s.MaxShotSeconds = EnvFloat("MAX_SHOT_SECONDS", s.MaxShotSeconds)
	s.MinShotInterval = EnvDuration("MIN_SHOT_INTERVAL", s.MinShotInterval)
	s.HourlyShotCap = EnvInt("HOURLY_SHOT_CAP", s.HourlyShotCap)
	s.OversaturationVWC = EnvFloat("OVERSATURATION_VWC", s.OversaturationVWC)
	s.ECMaxMScm = EnvFloat("EC_MAX_MSCM", s.ECMaxMScm)

	s.AdvisoryEnabled = EnvBool("ADVISORY_ENABLED", s.AdvisoryEnabled)
	s.AdvisoryBaseURL = EnvStr("ADVISORY_BASE_URL", s.AdvisoryBaseURL)
	s.AdvisoryAPIKey = EnvStr("ADVISORY_API_KEY", "")
	s.AdvisoryModel = EnvStr("ADVISORY_MODEL", s.AdvisoryModel)
	s.AdvisoryTimeout = EnvDuration("ADVISORY_TIMEOUT", s.AdvisoryTimeout)
	s.ConfidenceThreshold = EnvFloat("ADVISORY_CONFIDENCE_THRESHOLD", s.ConfidenceThreshold)
	s.DailyBudgetUSD = EnvFloat("ADVISORY_DAILY_BUDGET_USD", s.DailyBudgetUSD)
	s.CostPerCallUSD = EnvFloat("ADVISORY_COST_PER_CALL_USD", s.CostPerCallUSD)
	s.CacheTTL = EnvDuration("ADVISORY_CACHE_TTL", s.CacheTTL)
	s.CacheVWCStep = EnvFloat("ADVISORY_CACHE_VWC_STEP", s.CacheVWCStep)
	s.CacheECStep = EnvFloat("ADVISORY_CACHE_EC_STEP", s.CacheECStep)
	s.MaxConsecutiveAdvised = EnvInt("ADVISORY_MAX_CONSECUTIVE", s.MaxConsecutiveAdvised)

	s.LearningProfilePath = EnvStr("LEARNING_PROFILE_PATH", s.LearningProfilePath)
	s.LearningSettleWait = EnvDuration("LEARNING_SETTLE_WAIT", s.LearningSettleWait)
	s.SaturationGainPerL = EnvFloat("LEARNING_SATURATION_GAIN_PER_L", s.SaturationGainPerL)
	s.SaturationConsecut = EnvInt("LEARNING_SATURATION_CONSECUTIVE", s.SaturationConsecut)
	s.CapacityRunInterval = EnvDuration("LEARNING_CAPACITY_RUN_INTERVAL", s.CapacityRunInterval)
	s.EfficiencyRunTimeout = EnvDuration("LEARNING_EFFICIENCY_TIMEOUT", s.EfficiencyRunTimeout)
	return s
}
