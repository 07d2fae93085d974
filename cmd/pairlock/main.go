// pairlock 二元 Up/Down 市场的配对成本决策引擎。
//
// 订阅一个市场的双侧一档行情，每个 tick 评估一次，
// 产出的交易信号只打印/落日记——下单执行不在本进程内。
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/betbot/pairlock/internal/domain"
	"github.com/betbot/pairlock/internal/engine"
	"github.com/betbot/pairlock/internal/events"
	"github.com/betbot/pairlock/internal/sink"
	"github.com/betbot/pairlock/pkg/feed"
	"github.com/betbot/pairlock/pkg/logger"
)

var log = logrus.WithField("module", "pairlock.main")

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func main() {
	// .env 可选，找不到不算错误
	_ = godotenv.Load()

	var (
		preset      = flag.String("preset", getenv("PAIRLOCK_PRESET", "D.2"), "参数包名称（"+strings.Join(engine.PresetNames(), "/")+"）")
		configFile  = flag.String("config", getenv("PAIRLOCK_CONFIG", ""), "YAML 配置文件（覆盖参数包字段，可选）")
		slug        = flag.String("slug", getenv("PAIRLOCK_SLUG", ""), "市场 slug（如 btc-updown-15m-1765985400）")
		asset       = flag.String("asset", getenv("PAIRLOCK_ASSET", "btc"), "标的资产")
		conditionID = flag.String("condition", getenv("PAIRLOCK_CONDITION", ""), "市场条件 ID（用于查询 token）")
		upToken     = flag.String("up-token", getenv("PAIRLOCK_UP_TOKEN", ""), "UP token ID（与 -condition 二选一）")
		downToken   = flag.String("down-token", getenv("PAIRLOCK_DOWN_TOKEN", ""), "DOWN token ID")
		cycleEnd    = flag.Int64("cycle-end", 0, "周期结束 Unix 时间戳（秒；缺省从 slug 尾段推断 +15m）")
		restHost    = flag.String("rest", getenv("PAIRLOCK_REST", ""), "CLOB REST 地址（可选）")
		wsURL       = flag.String("ws", getenv("PAIRLOCK_WS", ""), "行情 WebSocket 地址（可选）")
		journalPath = flag.String("journal", getenv("PAIRLOCK_JOURNAL", ""), "决策日记 badger 路径（可选）")
		logLevel    = flag.String("log-level", getenv("PAIRLOCK_LOG_LEVEL", "info"), "日志级别")
		logFile     = flag.String("log-file", getenv("PAIRLOCK_LOG_FILE", ""), "日志文件（可选）")
		seed        = flag.Int64("seed", 0, "随机种子（0 用时间；固定种子可复现 sizing）")
	)
	flag.Parse()

	if err := logger.Init(logger.Config{
		Level:      *logLevel,
		OutputFile: *logFile,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     7,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "日志初始化失败: %v\n", err)
		os.Exit(1)
	}

	if *slug == "" {
		log.Fatal("缺少 -slug")
	}

	// ===== 配置 =====
	var cfg engine.Config
	var err error
	if *configFile != "" {
		cfg, err = engine.LoadFile(*configFile, *preset)
	} else {
		cfg, err = engine.Preset(*preset)
	}
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	log.Infof("🎛️ 参数包: %s (entryMax=%dc normal=%dc hedgeOnly=%dc)",
		cfg.Name, cfg.EntryCppMaxCents, cfg.CppNormalMaxCents, cfg.CppHedgeOnlyMaxCents)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ===== 市场 =====
	rest := feed.NewRESTClient(*restHost)
	up, down := *upToken, *downToken
	if up == "" || down == "" {
		if *conditionID == "" {
			log.Fatal("需要 -up-token/-down-token 或 -condition")
		}
		up, down, err = rest.MarketTokens(ctx, *conditionID)
		if err != nil {
			log.Fatalf("查询市场 token 失败: %v", err)
		}
	}

	market := &domain.Market{
		Slug:        *slug,
		Asset:       *asset,
		UpAssetID:   up,
		DownAssetID: down,
		ConditionID: *conditionID,
		CycleEndAt:  *cycleEnd,
	}
	if market.CycleEndAt == 0 {
		market.CycleStart = cycleStartFromSlug(*slug)
		if market.CycleStart == 0 {
			log.Fatal("无法从 slug 推断周期，请指定 -cycle-end")
		}
		market.CycleEndAt = market.CycleStart + int64((15 * time.Minute).Seconds())
	} else if market.CycleStart == 0 {
		market.CycleStart = cycleStartFromSlug(*slug)
	}
	if !market.IsValid() {
		log.Fatalf("市场参数不完整: %+v", market)
	}
	log.Infof("📍 市场: %s，周期结束于 %s", market.Key(), time.Unix(market.CycleEndAt, 0).Format(time.RFC3339))

	// ===== 事件 sink =====
	sinks := events.MultiSink{sink.NewLogSink()}
	if *journalPath != "" {
		journal, err := sink.OpenJournal(sink.JournalOptions{
			Path: *journalPath,
			TTL:  7 * 24 * time.Hour,
		})
		if err != nil {
			log.Fatalf("打开决策日记失败: %v", err)
		}
		defer journal.Close()
		sinks = append(sinks, journal)
	}

	// ===== 引擎 =====
	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	eng, err := engine.New(cfg,
		engine.WithSink(sinks),
		engine.WithRand(rand.New(rand.NewSource(*seed))),
	)
	if err != nil {
		log.Fatalf("引擎创建失败: %v", err)
	}

	// ===== 行情 =====
	wsCfg := feed.DefaultWSConfig()
	if *wsURL != "" {
		wsCfg.URL = *wsURL
	}
	ws := feed.NewWSClient(wsCfg)
	if err := ws.Start(ctx); err != nil {
		log.Fatalf("行情连接失败: %v", err)
	}
	defer ws.Stop()
	if err := ws.Subscribe(up, down); err != nil {
		log.Fatalf("行情订阅失败: %v", err)
	}

	assembler := feed.NewAssembler(market)
	seedQuote(ctx, rest, assembler, up, down)

	// ===== 主循环 =====
	// 成交回流不在本进程内，账本保持演练（dry-run）状态：
	// 信号打印后当作未成交，下一个 tick 重新评估。
	inventory := &domain.Inventory{}
	noLiquidityStreak := 0

	log.Info("🚀 评估循环启动")
	for {
		select {
		case <-ctx.Done():
			log.Info("👋 收到退出信号")
			return
		case err := <-ws.Errors():
			log.Errorf("行情不可恢复: %v", err)
			return
		case tob := <-ws.Updates():
			quote, ok := assembler.Apply(tob)
			if !ok {
				continue
			}
			now := time.Now()
			if now.Unix() >= market.CycleEndAt {
				log.Info("🏁 周期已结束")
				eng.Registry().Clear(market.Key())
				return
			}

			if !quote.Up.HasAsk() && !quote.Down.HasAsk() {
				noLiquidityStreak++
			} else {
				noLiquidityStreak = 0
			}

			sig := eng.Evaluate(engine.Input{
				Market:            market,
				Quote:             quote,
				Inventory:         inventory,
				Now:               now,
				NoLiquidityStreak: noLiquidityStreak,
			})
			if sig != nil {
				log.Infof("🎯 %s", sig)
			}
		}
	}
}

// seedQuote 用 REST 快照填充首帧（WebSocket 首条 book 到达前不至于盲评）
func seedQuote(ctx context.Context, rest *feed.RESTClient, a *feed.Assembler, upID, downID string) {
	upTob, err := rest.TopOfBook(ctx, upID)
	if err != nil {
		log.Warnf("UP 快照失败: %v", err)
		return
	}
	downTob, err := rest.TopOfBook(ctx, downID)
	if err != nil {
		log.Warnf("DOWN 快照失败: %v", err)
		return
	}
	a.Seed(upTob, downTob, time.Now())
	log.Info("📷 REST 快照已就位")
}

// cycleStartFromSlug 从形如 btc-updown-15m-1765985400 的 slug 提取周期开始时间戳
func cycleStartFromSlug(slug string) int64 {
	parts := strings.Split(slug, "-")
	if len(parts) == 0 {
		return 0
	}
	ts, err := strconv.ParseInt(parts[len(parts)-1], 10, 64)
	if err != nil || ts < 1_000_000_000 {
		return 0
	}
	return ts
}
