package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/samber/lo"
	"gopkg.in/yaml.v2"
)

const (
	defaultTrafficHost    = "localhost"
	defaultConnectTimeout = 10 * time.Second
	defaultSignalTimeout  = 5 * time.Second
)

// ConfigError 配置文件错误
// 功能：表示配置文件缺失、格式错误或内容不完整
// 说明：在任何引擎被访问之前返回
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("config: %v", e.Err)
	}
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Load 从文件读取并校验配置
// 功能：读取YAML文件，严格反序列化并校验
// 参数：path-配置文件路径
// 返回：配置对象，失败时返回*ConfigError
func Load(path string) (Config, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &ConfigError{Path: path, Err: err}
	}
	c, err := Parse(file)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			ce.Path = path
		}
		return Config{}, err
	}
	return c, nil
}

// Parse 解析YAML配置数据
// 功能：严格反序列化（未知字段报错）并校验
// 参数：data-YAML数据
// 返回：配置对象，失败时返回*ConfigError
func Parse(data []byte) (Config, error) {
	var c Config
	if err := yaml.UnmarshalStrict(data, &c); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	if err := c.Validate(); err != nil {
		return Config{}, &ConfigError{Err: err}
	}
	return c, nil
}

// Validate 校验配置的完整性
// 说明：同一类绑定的ID不能重复，也不能为空
func (c Config) Validate() error {
	if c.Signal.URL == "" {
		return errors.New("signal.url is required")
	}
	if c.Signal.DataDir == "" {
		return errors.New("signal.data_dir is required")
	}
	if c.Traffic.NetFile == "" {
		return errors.New("traffic.net_file is required")
	}
	if c.Traffic.Port <= 0 || c.Traffic.Port > 65535 {
		return fmt.Errorf("traffic.port %d out of range", c.Traffic.Port)
	}
	if c.Traffic.Binary != "" && c.Traffic.ConfigFile == "" {
		return errors.New("traffic.config_file is required when traffic.binary is set")
	}
	if c.Control.Step.Interval <= 0 {
		return fmt.Errorf("control.step.interval must be positive, got %v", c.Control.Step.Interval)
	}
	if c.Control.Step.Total < 0 {
		return fmt.Errorf("control.step.total must not be negative, got %d", c.Control.Step.Total)
	}
	if src := c.Input.VehicleTypes; src.File == "" && src.URI != "" && (src.Path == nil || src.Path.DB == "" || src.Path.Col == "") {
		return errors.New("input.vehicle_types.path with db and col is required when uri is set")
	}
	if err := validateBindings("input.detectors", c.Input.Detectors); err != nil {
		return err
	}
	return validateBindings("input.control_units", c.Input.ControlUnits)
}

func validateBindings(field string, bindings []Binding) error {
	for i, b := range bindings {
		if b.ID == "" {
			return fmt.Errorf("%s[%d]: empty id", field, i)
		}
	}
	ids := lo.Map(bindings, func(b Binding, _ int) string { return b.ID })
	if dup := lo.FindDuplicates(ids); len(dup) > 0 {
		return fmt.Errorf("%s: duplicated ids %v", field, dup)
	}
	return nil
}

// RuntimeConfig 运行时配置
// 功能：保存配置及解析后的文件系统路径（相对路径以配置文件所在目录为基准）
// 说明：加载后不再修改
type RuntimeConfig struct {
	All Config  // 全部配置
	C   Control // 全局控制配置

	Dir              string   // 配置文件所在目录
	SignalDataDir    string   // 信控数据目录
	TrafficConfig    string   // 交通仿真器配置文件
	NetFile          string   // 路网文件
	AdditionalFiles  []string // 附加文件
	VehicleTypesFile string   // 车辆类型文件
}

// NewRuntimeConfig 根据配置与配置文件路径生成运行时配置
// 功能：解析所有相对路径并填充默认值
// 参数：config-原始配置对象，configPath-配置文件路径（为空时以当前目录为基准）
// 返回：运行时配置指针
func NewRuntimeConfig(config Config, configPath string) *RuntimeConfig {
	dir := "."
	if configPath != "" {
		dir = filepath.Dir(configPath)
	}
	if config.Traffic.Host == "" {
		config.Traffic.Host = defaultTrafficHost
	}
	if config.Traffic.ConnectTimeout <= 0 {
		config.Traffic.ConnectTimeout = defaultConnectTimeout
	}
	if config.Signal.Timeout <= 0 {
		config.Signal.Timeout = defaultSignalTimeout
	}
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	return &RuntimeConfig{
		All:              config,
		C:                config.Control,
		Dir:              dir,
		SignalDataDir:    resolve(config.Signal.DataDir),
		TrafficConfig:    resolve(config.Traffic.ConfigFile),
		NetFile:          resolve(config.Traffic.NetFile),
		AdditionalFiles:  lo.Map(config.Traffic.AdditionalFiles, func(p string, _ int) string { return resolve(p) }),
		VehicleTypesFile: resolve(config.Input.VehicleTypes.File),
	}
}
