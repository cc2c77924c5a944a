package vehicletype

import (
	"context"
	"fmt"

	"git.fiblab.net/general/common/v2/mongoutil"
	"github.com/tsinghua-fib-lab/agentsociety-cosim/utils/config"
	"go.mongodb.org/mongo-driver/bson"
)

// MongoSource MongoDB集合数据源
// 说明：每个文档形如{id: "car", length: 5}，length可以是数字或字符串
type MongoSource struct {
	URI  string
	Path config.InputPath
}

func (s *MongoSource) String() string {
	return s.Path.DB + "." + s.Path.Col
}

// Entries 读取集合中的所有文档
// 说明：单个文档解码失败只记录在对应记录中，不中断读取
func (s *MongoSource) Entries(ctx context.Context) ([]RawEntry, error) {
	client := mongoutil.NewClient(s.URI)
	defer client.Disconnect(context.Background())
	coll := mongoutil.GetMongoColl(client, s.Path)

	log.Infof("start fetching vehicle types from %s", s)
	cursor, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)
	entries := make([]RawEntry, 0)
	for cursor.Next(ctx) {
		entries = append(entries, decodeDocument(cursor.Current, len(entries)))
	}
	if err := cursor.Err(); err != nil {
		return nil, err
	}
	log.Infof("finish fetching %d vehicle types from %s", len(entries), s)
	return entries, nil
}

type vehicleTypeDoc struct {
	ID     string      `bson:"id"`
	Length interface{} `bson:"length"`
}

// decodeDocument 解码单个文档
func decodeDocument(raw bson.Raw, index int) RawEntry {
	var doc vehicleTypeDoc
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return RawEntry{Index: index, Err: fmt.Errorf("decode document: %w", err)}
	}
	e := RawEntry{Index: index, ID: doc.ID}
	switch l := doc.Length.(type) {
	case nil:
	case string:
		e.Length = l
	case int32, int64, float64:
		e.Length = fmt.Sprint(l)
	default:
		e.Err = fmt.Errorf("unsupported length type %T", l)
	}
	return e
}
