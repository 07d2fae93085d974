package engine

import (
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const ID = "pairlock"

// Config 策略参数包（不可变，命名版本化）。
//
// 历史上多个近似重复的策略版本（D.1 / D.2 / v6.0 / PDF-spec）只差阈值常量，
// 这里统一为一个数据类型 + 多个命名实例；确实存在行为差异的地方
// （v6.0 的"永远对冲"）用显式开关表达，不开代码分支。
// 阈值沿用分（cent）口径，内部计算用 pips。
type Config struct {
	Name string `yaml:"name" json:"name"` // 参数包名称（选择用）

	// ===== CPP 上限 =====
	EntryCppMaxCents      int  `yaml:"entryCppMaxCents" json:"entryCppMaxCents"`           // 入场可行性硬上限（maker 口径投影，分）
	CppNormalMaxCents     int  `yaml:"cppNormalMaxCents" json:"cppNormalMaxCents"`         // normal 带上限：以下入场/对冲/加仓都合法
	CppHedgeOnlyMaxCents  int  `yaml:"cppHedgeOnlyMaxCents" json:"cppHedgeOnlyMaxCents"`   // hedge-only 带上限：达到即只许持有
	LockBoundaryInclusive bool `yaml:"lockBoundaryInclusive" json:"lockBoundaryInclusive"` // combined==1.00 是否算"锁定收益"

	// ===== Combination guard（均价 + 对冲估价）=====
	CombinationSoftCents int `yaml:"combinationSoftCents" json:"combinationSoftCents"` // 超过只允许最小单
	CombinationHardCents int `yaml:"combinationHardCents" json:"combinationHardCents"` // 超过直接拒绝

	// ===== maker 价估计 =====
	MakerSpreadOffsetCents int `yaml:"makerSpreadOffsetCents" json:"makerSpreadOffsetCents"` // ask - offset 的挂单价估计
	MinTickPips            int `yaml:"minTickPips" json:"minTickPips"`                       // 最小 tick（pips）

	// ===== 边际（edge）与动态阈值 =====
	BaseThetaCents            float64 `yaml:"baseThetaCents" json:"baseThetaCents"`                       // 基础阈值（分）
	TimeDecayFactor           float64 `yaml:"timeDecayFactor" json:"timeDecayFactor"`                     // 阈值时间衰减系数
	TimeMultiplierFloor       float64 `yaml:"timeMultiplierFloor" json:"timeMultiplierFloor"`             // 时间乘数下限（0.3）
	InventoryFactor           float64 `yaml:"inventoryFactor" json:"inventoryFactor"`                     // 库存压力加宽系数
	MaxExposureUSDC           float64 `yaml:"maxExposureUSDC" json:"maxExposureUSDC"`                     // 敞口归一化分母（USDC）
	MinFairValueHighConfCents int     `yaml:"minFairValueHighConfCents" json:"minFairValueHighConfCents"` // 高置信公允价值下限
	MinFairValueLowConfCents  int     `yaml:"minFairValueLowConfCents" json:"minFairValueLowConfCents"`   // 低置信公允价值下限（更严）
	ForceCounterExposureRatio float64 `yaml:"forceCounterExposureRatio" json:"forceCounterExposureRatio"` // 触发强制反向的敞口比例
	ExpensiveAvgFloorCents    int     `yaml:"expensiveAvgFloorCents" json:"expensiveAvgFloorCents"`       // 强制反向要求多数侧均价高于此
	MeaningfulExposureUSDC    float64 `yaml:"meaningfulExposureUSDC" json:"meaningfulExposureUSDC"`       // 强制反向要求的最小美元敞口

	// ===== sizing =====
	EntryNotionalMinUSDC   float64 `yaml:"entryNotionalMinUSDC" json:"entryNotionalMinUSDC"`     // 入场名义金额下限（随机区间）
	EntryNotionalMaxUSDC   float64 `yaml:"entryNotionalMaxUSDC" json:"entryNotionalMaxUSDC"`     // 入场名义金额上限
	AccumulateNotionalUSDC float64 `yaml:"accumulateNotionalUSDC" json:"accumulateNotionalUSDC"` // 加仓名义金额
	MinOrderShares         float64 `yaml:"minOrderShares" json:"minOrderShares"`                 // 最小可成交数量
	MicroOrderShares       float64 `yaml:"microOrderShares" json:"microOrderShares"`             // soft 带内的微型单数量
	HedgeCushionTicks      int     `yaml:"hedgeCushionTicks" json:"hedgeCushionTicks"`           // 对冲加价 tick 数（保证穿价成交）
	MaxHedgePriceCents     int     `yaml:"maxHedgePriceCents" json:"maxHedgePriceCents"`         // 对冲价上限
	DeepDislocationBoost   float64 `yaml:"deepDislocationBoost" json:"deepDislocationBoost"`     // 深度错价时的加仓放大倍数

	// ===== 侧别价格安全 =====
	ExpensiveSideThresholdCents int `yaml:"expensiveSideThresholdCents" json:"expensiveSideThresholdCents"` // 贵侧阈值（少数侧买入拒绝 / 对冲递延）
	HighCertaintyCents          int `yaml:"highCertaintyCents" json:"highCertaintyCents"`                   // ask 高到视为"近乎确定"
	CheapSideCents              int `yaml:"cheapSideCents" json:"cheapSideCents"`                           // 轻仓侧极便宜（激进修偏例外）
	CatastrophicCombinedCents   int `yaml:"catastrophicCombinedCents" json:"catastrophicCombinedCents"`     // 临期对冲仍不可接受的 combined 上限

	// ===== skew =====
	SkewRebalanceThreshold float64 `yaml:"skewRebalanceThreshold" json:"skewRebalanceThreshold"` // 超过进入 SKEWED
	SkewHardCap            float64 `yaml:"skewHardCap" json:"skewHardCap"`                       // 交易后不可突破的硬上限

	// ===== 时间界限 =====
	StopNewTradesSeconds     int `yaml:"stopNewTradesSeconds" json:"stopNewTradesSeconds"`         // 距结束小于此不再开新仓
	UnwindStartSeconds       int `yaml:"unwindStartSeconds" json:"unwindStartSeconds"`             // 距结束小于此进入 UNWIND
	CriticalSecondsRemaining int `yaml:"criticalSecondsRemaining" json:"criticalSecondsRemaining"` // 时间紧迫（贵侧对冲例外 c）
	HedgeTimeoutSeconds      int `yaml:"hedgeTimeoutSeconds" json:"hedgeTimeoutSeconds"`           // 首次成交后允许的最大对冲时滞
	NoLiquidityStreakLimit   int `yaml:"noLiquidityStreakLimit" json:"noLiquidityStreakLimit"`     // 连续无流动性观测次数上限
	CooldownMs               int `yaml:"cooldownMs" json:"cooldownMs"`                             // 信号间冷却（毫秒）
	QuoteStalenessMs         int `yaml:"quoteStalenessMs" json:"quoteStalenessMs"`                 // 盘口过期界限（毫秒）

	// ===== 状态机 =====
	DeepDislocationCents int `yaml:"deepDislocationCents" json:"deepDislocationCents"` // 双侧 ask 之和低于此进入 DEEP_DISLOCATION

	// ===== 策略开关 =====
	AlwaysHedge           bool `yaml:"alwaysHedge" json:"alwaysHedge"`                     // v6.0："永远对冲"，贵侧规则只剩价格上限
	AllowMultipleOpenings bool `yaml:"allowMultipleOpenings" json:"allowMultipleOpenings"` // 关闭单次入场限制
}

// Defaults 填充未设置的字段（不会覆盖已有值）
func (c *Config) Defaults() {
	if c.MinTickPips <= 0 {
		c.MinTickPips = 100 // 0.01
	}
	if c.MakerSpreadOffsetCents <= 0 {
		c.MakerSpreadOffsetCents = 2
	}
	if c.TimeMultiplierFloor <= 0 {
		c.TimeMultiplierFloor = 0.3
	}
	if c.MinOrderShares <= 0 {
		c.MinOrderShares = 5
	}
	if c.MicroOrderShares <= 0 {
		c.MicroOrderShares = c.MinOrderShares
	}
	if c.HedgeCushionTicks <= 0 {
		c.HedgeCushionTicks = 1
	}
	if c.MaxHedgePriceCents <= 0 {
		c.MaxHedgePriceCents = 97
	}
	if c.DeepDislocationBoost <= 0 {
		c.DeepDislocationBoost = 2.0
	}
	if c.HighCertaintyCents <= 0 {
		c.HighCertaintyCents = 85
	}
	if c.CheapSideCents <= 0 {
		c.CheapSideCents = 10
	}
	if c.CatastrophicCombinedCents <= 0 {
		c.CatastrophicCombinedCents = 110
	}
	if c.QuoteStalenessMs <= 0 {
		c.QuoteStalenessMs = 5000
	}
	if c.CooldownMs < 0 {
		c.CooldownMs = 0
	}
	if c.DeepDislocationCents <= 0 {
		c.DeepDislocationCents = 90
	}
	if c.MaxExposureUSDC <= 0 {
		c.MaxExposureUSDC = 500
	}
}

// Validate 验证配置一致性。不一致的配置是编程/配置错误，必须在加载期失败。
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config不能为空")
	}
	if c.EntryCppMaxCents <= 0 || c.EntryCppMaxCents > 200 {
		return fmt.Errorf("entryCppMaxCents必须在(0,200]内，当前值: %d", c.EntryCppMaxCents)
	}
	if c.CppNormalMaxCents <= 0 {
		return fmt.Errorf("cppNormalMaxCents必须大于0，当前值: %d", c.CppNormalMaxCents)
	}
	if c.CppHedgeOnlyMaxCents < c.CppNormalMaxCents {
		return fmt.Errorf("cppHedgeOnlyMaxCents(%d)不能低于cppNormalMaxCents(%d)", c.CppHedgeOnlyMaxCents, c.CppNormalMaxCents)
	}
	if c.CombinationHardCents < c.CombinationSoftCents {
		return fmt.Errorf("combinationHardCents(%d)不能低于combinationSoftCents(%d)", c.CombinationHardCents, c.CombinationSoftCents)
	}
	if c.CombinationSoftCents <= 0 {
		return fmt.Errorf("combinationSoftCents必须大于0，当前值: %d", c.CombinationSoftCents)
	}
	if c.BaseThetaCents < 0 {
		return fmt.Errorf("baseThetaCents不能为负数，当前值: %.4f", c.BaseThetaCents)
	}
	if c.TimeMultiplierFloor <= 0 || c.TimeMultiplierFloor > 1 {
		return fmt.Errorf("timeMultiplierFloor必须在(0,1]内，当前值: %.4f", c.TimeMultiplierFloor)
	}
	if c.MinFairValueLowConfCents < c.MinFairValueHighConfCents {
		return fmt.Errorf("低置信公允价值下限(%d)不应低于高置信下限(%d)", c.MinFairValueLowConfCents, c.MinFairValueHighConfCents)
	}
	if c.EntryNotionalMinUSDC <= 0 || c.EntryNotionalMaxUSDC < c.EntryNotionalMinUSDC {
		return fmt.Errorf("入场名义金额区间无效: [%.2f, %.2f]", c.EntryNotionalMinUSDC, c.EntryNotionalMaxUSDC)
	}
	if c.AccumulateNotionalUSDC <= 0 {
		return fmt.Errorf("accumulateNotionalUSDC必须大于0，当前值: %.2f", c.AccumulateNotionalUSDC)
	}
	if c.MinOrderShares <= 0 {
		return fmt.Errorf("minOrderShares必须大于0，当前值: %.4f", c.MinOrderShares)
	}
	if c.SkewRebalanceThreshold <= 0 || c.SkewRebalanceThreshold >= 1 {
		return fmt.Errorf("skewRebalanceThreshold必须在(0,1)内，当前值: %.4f", c.SkewRebalanceThreshold)
	}
	if c.SkewHardCap < c.SkewRebalanceThreshold || c.SkewHardCap > 1 {
		return fmt.Errorf("skewHardCap(%.4f)必须在[skewRebalanceThreshold, 1]内", c.SkewHardCap)
	}
	if c.ExpensiveSideThresholdCents <= 0 || c.ExpensiveSideThresholdCents >= 100 {
		return fmt.Errorf("expensiveSideThresholdCents必须在(0,100)内，当前值: %d", c.ExpensiveSideThresholdCents)
	}
	if c.HighCertaintyCents <= c.ExpensiveSideThresholdCents {
		return fmt.Errorf("highCertaintyCents(%d)必须高于expensiveSideThresholdCents(%d)", c.HighCertaintyCents, c.ExpensiveSideThresholdCents)
	}
	if c.UnwindStartSeconds <= 0 {
		return fmt.Errorf("unwindStartSeconds必须大于0，当前值: %d", c.UnwindStartSeconds)
	}
	if c.StopNewTradesSeconds < c.UnwindStartSeconds {
		return fmt.Errorf("stopNewTradesSeconds(%d)不应低于unwindStartSeconds(%d)", c.StopNewTradesSeconds, c.UnwindStartSeconds)
	}
	if c.HedgeTimeoutSeconds <= 0 {
		return fmt.Errorf("hedgeTimeoutSeconds必须大于0，当前值: %d", c.HedgeTimeoutSeconds)
	}
	if c.NoLiquidityStreakLimit <= 0 {
		return fmt.Errorf("noLiquidityStreakLimit必须大于0，当前值: %d", c.NoLiquidityStreakLimit)
	}
	return nil
}

// presets 各历史策略版本的命名参数包。
// 版本间对 CPP 上限（0.98 / 0.99 / 1.00）与边界归属（< / <=）口径不一致，
// 这里按版本原样保留，作为配置差异而不是代码差异。
var presets = map[string]Config{
	"D.1": {
		Name:                        "D.1",
		EntryCppMaxCents:            98,
		CppNormalMaxCents:           98,
		CppHedgeOnlyMaxCents:        100,
		LockBoundaryInclusive:       false,
		CombinationSoftCents:        97,
		CombinationHardCents:        100,
		MakerSpreadOffsetCents:      2,
		BaseThetaCents:              2.0,
		TimeDecayFactor:             0.7,
		TimeMultiplierFloor:         0.3,
		InventoryFactor:             0.5,
		MaxExposureUSDC:             500,
		MinFairValueHighConfCents:   10,
		MinFairValueLowConfCents:    15,
		ForceCounterExposureRatio:   0.6,
		ExpensiveAvgFloorCents:      40,
		MeaningfulExposureUSDC:      25,
		EntryNotionalMinUSDC:        10,
		EntryNotionalMaxUSDC:        30,
		AccumulateNotionalUSDC:      15,
		MinOrderShares:              5,
		MicroOrderShares:            5,
		HedgeCushionTicks:           1,
		MaxHedgePriceCents:          96,
		ExpensiveSideThresholdCents: 50,
		SkewRebalanceThreshold:      0.25,
		SkewHardCap:                 0.6,
		StopNewTradesSeconds:        120,
		UnwindStartSeconds:          45,
		CriticalSecondsRemaining:    90,
		HedgeTimeoutSeconds:         60,
		NoLiquidityStreakLimit:      8,
		CooldownMs:                  1500,
		DeepDislocationCents:        88,
	},
	"D.2": {
		Name:                        "D.2",
		EntryCppMaxCents:            99,
		CppNormalMaxCents:           99,
		CppHedgeOnlyMaxCents:        101,
		LockBoundaryInclusive:       false,
		CombinationSoftCents:        98,
		CombinationHardCents:        101,
		MakerSpreadOffsetCents:      2,
		BaseThetaCents:              1.5,
		TimeDecayFactor:             0.7,
		TimeMultiplierFloor:         0.3,
		InventoryFactor:             0.5,
		MaxExposureUSDC:             500,
		MinFairValueHighConfCents:   10,
		MinFairValueLowConfCents:    15,
		ForceCounterExposureRatio:   0.6,
		ExpensiveAvgFloorCents:      40,
		MeaningfulExposureUSDC:      25,
		EntryNotionalMinUSDC:        10,
		EntryNotionalMaxUSDC:        40,
		AccumulateNotionalUSDC:      20,
		MinOrderShares:              5,
		MicroOrderShares:            5,
		HedgeCushionTicks:           1,
		MaxHedgePriceCents:          97,
		ExpensiveSideThresholdCents: 55,
		SkewRebalanceThreshold:      0.25,
		SkewHardCap:                 0.6,
		StopNewTradesSeconds:        120,
		UnwindStartSeconds:          45,
		CriticalSecondsRemaining:    90,
		HedgeTimeoutSeconds:         60,
		NoLiquidityStreakLimit:      8,
		CooldownMs:                  1500,
		DeepDislocationCents:        90,
	},
	"v6.0": {
		Name:                        "v6.0",
		EntryCppMaxCents:            99,
		CppNormalMaxCents:           99,
		CppHedgeOnlyMaxCents:        101,
		LockBoundaryInclusive:       true,
		CombinationSoftCents:        98,
		CombinationHardCents:        101,
		MakerSpreadOffsetCents:      2,
		BaseThetaCents:              1.5,
		TimeDecayFactor:             0.8,
		TimeMultiplierFloor:         0.3,
		InventoryFactor:             0.6,
		MaxExposureUSDC:             750,
		MinFairValueHighConfCents:   10,
		MinFairValueLowConfCents:    15,
		ForceCounterExposureRatio:   0.55,
		ExpensiveAvgFloorCents:      40,
		MeaningfulExposureUSDC:      25,
		EntryNotionalMinUSDC:        15,
		EntryNotionalMaxUSDC:        50,
		AccumulateNotionalUSDC:      25,
		MinOrderShares:              5,
		MicroOrderShares:            5,
		HedgeCushionTicks:           2,
		MaxHedgePriceCents:          97,
		ExpensiveSideThresholdCents: 55,
		SkewRebalanceThreshold:      0.2,
		SkewHardCap:                 0.5,
		StopNewTradesSeconds:        150,
		UnwindStartSeconds:          60,
		CriticalSecondsRemaining:    120,
		HedgeTimeoutSeconds:         45,
		NoLiquidityStreakLimit:      6,
		CooldownMs:                  1000,
		DeepDislocationCents:        90,
		AlwaysHedge:                 true,
	},
	"PDF-spec": {
		Name:                        "PDF-spec",
		EntryCppMaxCents:            100,
		CppNormalMaxCents:           99,
		CppHedgeOnlyMaxCents:        101,
		LockBoundaryInclusive:       false,
		CombinationSoftCents:        98,
		CombinationHardCents:        100,
		MakerSpreadOffsetCents:      2,
		BaseThetaCents:              2.0,
		TimeDecayFactor:             0.7,
		TimeMultiplierFloor:         0.3,
		InventoryFactor:             0.5,
		MaxExposureUSDC:             500,
		MinFairValueHighConfCents:   10,
		MinFairValueLowConfCents:    15,
		ForceCounterExposureRatio:   0.6,
		ExpensiveAvgFloorCents:      40,
		MeaningfulExposureUSDC:      25,
		EntryNotionalMinUSDC:        10,
		EntryNotionalMaxUSDC:        30,
		AccumulateNotionalUSDC:      15,
		MinOrderShares:              5,
		MicroOrderShares:            5,
		HedgeCushionTicks:           1,
		MaxHedgePriceCents:          97,
		ExpensiveSideThresholdCents: 55,
		SkewRebalanceThreshold:      0.25,
		SkewHardCap:                 0.6,
		StopNewTradesSeconds:        120,
		UnwindStartSeconds:          45,
		CriticalSecondsRemaining:    90,
		HedgeTimeoutSeconds:         60,
		NoLiquidityStreakLimit:      8,
		CooldownMs:                  1500,
		DeepDislocationCents:        90,
	},
}

// PresetNames 返回可用的参数包名称
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	return names
}

// Preset 按名称取参数包副本（填充默认值并验证）
func Preset(name string) (Config, error) {
	cfg, ok := presets[strings.TrimSpace(name)]
	if !ok {
		return Config{}, fmt.Errorf("未知的参数包: %q（可用：%s）", name, strings.Join(PresetNames(), ", "))
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "参数包 %s 验证失败", name)
	}
	return cfg, nil
}

// LoadFile 从 YAML 文件加载参数包：以 base 参数包为底，文件字段覆盖。
func LoadFile(path string, base string) (Config, error) {
	cfg, err := Preset(base)
	if err != nil {
		return Config{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "读取配置文件失败: %s", path)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "解析配置文件失败: %s", path)
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, "配置文件 %s 验证失败", path)
	}
	return cfg, nil
}
