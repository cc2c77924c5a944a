package traffic

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tsinghua-fib-lab/agentsociety-cosim/entity"
)

// LoadCatalog 从路网文件和附加文件中解析静态模型
// 功能：收集信号灯（tlLogic，link数量取第一个phase的state长度）与感应线圈（inductionLoop / e1Detector）
// 参数：files-路网文件与附加文件路径
// 返回：静态模型，任一文件无法读取或解析时返回错误
func LoadCatalog(files ...string) (*entity.TrafficCatalog, error) {
	catalog := entity.NewTrafficCatalog()
	for _, path := range files {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		err = readCatalog(f, catalog)
		f.Close()
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return catalog, nil
}

func readCatalog(r io.Reader, catalog *entity.TrafficCatalog) error {
	dec := xml.NewDecoder(r)
	// 当前所在的tlLogic，等待其第一个phase
	var tl string
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("parse xml: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tlLogic":
				id := attr(t, "id")
				if _, ok := catalog.TrafficLights[id]; ok {
					// 同一信号灯的其它方案，保留第一个
					tl = ""
					continue
				}
				catalog.TrafficLights[id] = 0
				tl = id
			case "phase":
				if tl != "" {
					catalog.TrafficLights[tl] = len(attr(t, "state"))
					tl = ""
				}
			case "inductionLoop", "e1Detector":
				catalog.Detectors[attr(t, "id")] = struct{}{}
			}
		case xml.EndElement:
			if t.Name.Local == "tlLogic" {
				tl = ""
			}
		}
	}
}

func attr(se xml.StartElement, name string) string {
	for _, a := range se.Attr {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}
