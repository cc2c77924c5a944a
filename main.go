package main

import (
	"context"
	"encoding/base64"
	"errors"
	"flag"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	easy "git.fiblab.net/utils/logrus-easy-formatter"
	"github.com/sirupsen/logrus"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/task"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/metrics"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/tracing"
)

var (
	// 本程序监听的HTTP地址，提供观察者RPC与/metrics
	listenAddr = flag.String("listen", ":51102", "HTTP listening address for observer RPCs and /metrics")
	// 配置文件路径
	configPath = flag.String("config", "", "config file path")
	// 配置文件Base64编码后的数据
	configData = flag.String("config-data", "", "config file base64 encoded data")
	// 信控引擎不可达时的重试
	signalRetry    = flag.Int("signal.retry", 10, "retries of InitializeBeforePlay while the signal engine is unreachable")
	signalInterval = flag.Duration("signal.retry_interval", time.Second, "interval between InitializeBeforePlay retries")

	// tracing
	traceExporter = flag.String("trace.exporter", "none", "trace exporter (none stdout otlp)")
	traceEndpoint = flag.String("trace.endpoint", "", "otlp endpoint, default localhost:4317")

	// log
	logLevels = map[string]logrus.Level{
		"trace":    logrus.TraceLevel,
		"debug":    logrus.DebugLevel,
		"info":     logrus.InfoLevel,
		"warn":     logrus.WarnLevel,
		"error":    logrus.ErrorLevel,
		"critical": logrus.FatalLevel,
		"off":      logrus.PanicLevel,
	}
	logLevel = flag.String("log.level", "info", "日志级别（可选项：trace debug info warn error critical off）")

	log = logrus.WithField("module", "cosim")
)

func main() {
	flag.Parse()
	logrus.SetFormatter(&easy.Formatter{
		TimestampFormat: "2006-01-02 15:04:05.0000",
		LogFormat:       "[%module%] [%time%] [%lvl%] %msg%\n",
	})
	// log: 运行时才修改
	if level, ok := logLevels[*logLevel]; ok {
		logrus.SetLevel(level)
	} else {
		log.Panicf("log.level must be one of %v", logLevels)
	}

	ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, tracing.Config{
		Exporter:    *traceExporter,
		Endpoint:    *traceEndpoint,
		ServiceName: "cosim",
	})
	if err != nil {
		log.Panicf("tracing init err: %v", err)
	}
	defer tracing.Shutdown(shutdownTracing)

	collector, err := metrics.NewCollector(nil)
	if err != nil {
		log.Panicf("metrics init err: %v", err)
	}
	t := task.NewContext(nil, collector)
	defer func() {
		if err := t.Close(); err != nil {
			log.Warnf("close err: %v", err)
		}
	}()

	// 获取配置
	switch {
	case *configPath != "":
		err = t.Load(ctx, *configPath)
	case *configData != "":
		var file []byte
		file, err = base64.StdEncoding.DecodeString(*configData)
		if err != nil {
			log.Panicf("config data load err: %v", err)
		}
		var c config.Config
		if c, err = config.Parse(file); err == nil {
			err = t.LoadConfig(ctx, c, "")
		}
	default:
		log.Panic("config file or config data must be specified")
	}
	if err != nil {
		log.Panicf("load err: %v", err)
	}

	mux := http.NewServeMux()
	t.Register(mux)
	mux.Handle("/metrics", collector.Handler())
	server := &http.Server{Addr: *listenAddr, Handler: mux}
	go func() {
		log.Infof("listening at %v", *listenAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Panicf("failed to serve: %v", err)
		}
	}()
	defer func() {
		c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(c)
	}()

	if err := initialize(ctx, t); err != nil {
		log.Errorf("initialize err: %v", err)
		return
	}
	if err := t.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("run err: %v", err)
	}
}

// initialize 等待信控引擎可达并初始化两个引擎
func initialize(ctx context.Context, t *task.Context) error {
	for i := 0; ; i++ {
		res, err := t.InitializeBeforePlay(ctx)
		if err != nil {
			return err
		}
		if res == entity.InitOK {
			return nil
		}
		if i >= *signalRetry {
			return errors.New("signal engine did not become reachable")
		}
		log.Infof("signal engine unreachable, retry %d/%d in %v", i+1, *signalRetry, *signalInterval)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(*signalInterval):
		}
	}
}
