package config

import "time"

// InputPath 指定MongoDB中数据来源的配置
// 功能：定义MongoDB数据库与集合的位置
// 说明：实现GetDb/GetColl，可直接交给mongoutil获取集合
type InputPath struct {
	DB  string `yaml:"db"`  // 数据库名
	Col string `yaml:"col"` // 集合名
}

// GetDb 获取数据库名
func (p InputPath) GetDb() string {
	return p.DB
}

// GetColl 获取集合名
func (p InputPath) GetColl() string {
	return p.Col
}

// VehicleTypeSource 车辆类型表的来源
// 功能：指定车辆类型从SUMO XML文件或MongoDB集合加载
// 说明：File优先级高于MongoDB；两者都为空时车辆类型表为空
type VehicleTypeSource struct {
	File string     `yaml:"file,omitempty"` // SUMO XML文件（包含vType元素）
	URI  string     `yaml:"uri,omitempty"`  // MongoDB连接字符串
	Path *InputPath `yaml:"path,omitempty"` // MongoDB数据库与集合
}

// Binding 两个引擎之间的实体绑定
// 功能：描述一个检测器或信控单元在两个引擎命名空间中的标识
// 说明：YAML中既可以写成字符串（两侧ID相同），也可以写成{id, traffic, signal}
type Binding struct {
	ID      string `yaml:"id"`                // 本系统中的ID
	Traffic string `yaml:"traffic,omitempty"` // 交通仿真引擎中的ID，为空则等于ID
	Signal  string `yaml:"signal,omitempty"`  // 信控引擎中的ID，为空则等于ID
}

// UnmarshalYAML 支持字符串简写
func (b *Binding) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var id string
	if err := unmarshal(&id); err == nil {
		*b = Binding{ID: id}
		return nil
	}
	type plain Binding
	var p plain
	if err := unmarshal(&p); err != nil {
		return err
	}
	*b = Binding(p)
	return nil
}

// TrafficRef 交通仿真引擎中的ID
func (b Binding) TrafficRef() string {
	if b.Traffic != "" {
		return b.Traffic
	}
	return b.ID
}

// SignalRef 信控引擎中的ID
func (b Binding) SignalRef() string {
	if b.Signal != "" {
		return b.Signal
	}
	return b.ID
}

// Input 指定协同仿真所有输入数据的配置项
type Input struct {
	VehicleTypes VehicleTypeSource `yaml:"vehicle_types,omitempty"` // 车辆类型表
	Detectors    []Binding         `yaml:"detectors,omitempty"`     // 检测器绑定
	ControlUnits []Binding         `yaml:"control_units,omitempty"` // 信控单元绑定
}

// Traffic 交通仿真引擎（TraCI）配置
// 功能：定义交通仿真进程的启动方式与连接参数
// 说明：Binary为空时不启动进程，只连接Host:Port上已运行的仿真器
type Traffic struct {
	Binary          string        `yaml:"binary,omitempty"`           // 仿真器可执行文件，例如sumo
	ConfigFile      string        `yaml:"config_file,omitempty"`      // 仿真器配置文件（.sumocfg）
	NetFile         string        `yaml:"net_file"`                   // 路网文件，用于解析信号灯
	AdditionalFiles []string      `yaml:"additional_files,omitempty"` // 附加文件，用于解析检测器
	Host            string        `yaml:"host,omitempty"`             // TraCI地址，默认localhost
	Port            int           `yaml:"port"`                       // TraCI端口
	ConnectTimeout  time.Duration `yaml:"connect_timeout,omitempty"`  // 连接超时，默认10s
}

// Signal 信控引擎配置
type Signal struct {
	URL     string        `yaml:"url"`               // 信控服务地址
	DataDir string        `yaml:"data_dir"`          // 信控数据目录
	Timeout time.Duration `yaml:"timeout,omitempty"` // 单次请求超时，默认5s
}

// ControlStep 指定模拟时间范围和间隔的配置项
type ControlStep struct {
	Total    int64   `yaml:"total"`    // 总步数
	Interval float64 `yaml:"interval"` // 每步的时间间隔（秒）
}

// Control 协同仿真控制配置
type Control struct {
	Step ControlStep `yaml:"step"`
}

// Config YAML配置文件的根结构
type Config struct {
	Traffic Traffic `yaml:"traffic"` // 交通仿真引擎
	Signal  Signal  `yaml:"signal"`  // 信控引擎
	Input   Input   `yaml:"input"`   // 输入
	Control Control `yaml:"control"` // 模拟过程控制
}
