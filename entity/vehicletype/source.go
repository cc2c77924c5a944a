package vehicletype

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
)

// NewSource 根据配置选择数据源
// 返回：文件优先，其次MongoDB；都没有配置时返回nil
func NewSource(rc *config.RuntimeConfig) Source {
	src := rc.All.Input.VehicleTypes
	switch {
	case rc.VehicleTypesFile != "":
		return &FileSource{Path: rc.VehicleTypesFile}
	case src.URI != "" && src.Path != nil:
		return &MongoSource{URI: src.URI, Path: *src.Path}
	default:
		return nil
	}
}

// FileSource SUMO XML文件数据源
// 说明：读取任意层级的<vType id="..." length="..."/>元素
type FileSource struct {
	Path string
}

func (s *FileSource) String() string {
	return s.Path
}

// Entries 读取文件中的所有vType
func (s *FileSource) Entries(ctx context.Context) ([]RawEntry, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadXML(f)
}

// ReadXML 从XML中读取所有vType元素
// 返回：记录列表；XML本身无法解析时返回错误
func ReadXML(r io.Reader) ([]RawEntry, error) {
	dec := xml.NewDecoder(r)
	entries := make([]RawEntry, 0)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return entries, nil
		}
		if err != nil {
			return nil, fmt.Errorf("parse xml: %w", err)
		}
		se, ok := tok.(xml.StartElement)
		if !ok || se.Name.Local != "vType" {
			continue
		}
		e := RawEntry{Index: len(entries)}
		for _, attr := range se.Attr {
			switch attr.Name.Local {
			case "id":
				e.ID = attr.Value
			case "length":
				e.Length = attr.Value
			}
		}
		entries = append(entries, e)
	}
}
