package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	_ "github.com/mattn/go-sqlite3"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/tendant/image-inference-pipeline/pkg/pipeline"
)

var sampleEntries = []pipeline.DetectionEntry{
	{ObjLabel: "cat", ConfScore: "0.91", BoundBoxLTRB: []string{"0.1", "0.2", "0.6", "0.8"}},
	{ObjLabel: "dog", ConfScore: "0.3", BoundBoxLTRB: []string{"0.0", "0.0", "1.0", "1.0"}},
}

func TestCodec(t *testing.T) {
	Convey("Given the record codec", t, func() {
		var codec Codec

		Convey("Entries encode as a list of type-tagged maps", func() {
			av, err := codec.EncodeEntries(sampleEntries)
			So(err, ShouldBeNil)

			list, ok := av.(*types.AttributeValueMemberL)
			So(ok, ShouldBeTrue)
			So(len(list.Value), ShouldEqual, 2)

			m, ok := list.Value[0].(*types.AttributeValueMemberM)
			So(ok, ShouldBeTrue)
			So(m.Value["objLabel"], ShouldResemble, &types.AttributeValueMemberS{Value: "cat"})
			So(m.Value["confScore"], ShouldResemble, &types.AttributeValueMemberS{Value: "0.91"})

			box, ok := m.Value["boundBoxLTRB"].(*types.AttributeValueMemberL)
			So(ok, ShouldBeTrue)
			So(box.Value[2], ShouldResemble, &types.AttributeValueMemberS{Value: "0.6"})
		})

		Convey("A nil list encodes as an empty list", func() {
			av, err := codec.EncodeEntries(nil)
			So(err, ShouldBeNil)
			list, ok := av.(*types.AttributeValueMemberL)
			So(ok, ShouldBeTrue)
			So(list.Value, ShouldBeEmpty)
		})

		Convey("The JSON wire form survives a round trip", func() {
			av, err := codec.EncodeEntries(sampleEntries)
			So(err, ShouldBeNil)

			data, err := MarshalAttributeJSON(av)
			So(err, ShouldBeNil)
			So(string(data), ShouldContainSubstring, `{"S":"cat"}`)

			back, err := UnmarshalAttributeJSON(data)
			So(err, ShouldBeNil)

			entries, err := codec.DecodeEntries(back)
			So(err, ShouldBeNil)
			So(entries, ShouldResemble, sampleEntries)
		})

		Convey("Malformed wire data is rejected", func() {
			_, err := UnmarshalAttributeJSON([]byte(`{"S":"a","N":"1"}`))
			So(err, ShouldNotBeNil)

			_, err = UnmarshalAttributeJSON([]byte(`{"X":"a"}`))
			So(err, ShouldNotBeNil)
		})

		Convey("DecodeItem separates the key from endpoint fields", func() {
			av, err := codec.EncodeEntries(sampleEntries)
			So(err, ShouldBeNil)

			rec, err := codec.DecodeItem(map[string]types.AttributeValue{
				KeyAttribute: &types.AttributeValueMemberS{Value: "photo"},
				"animals":    av,
			})
			So(err, ShouldBeNil)
			So(rec.ImageName, ShouldEqual, "photo")
			So(rec.Fields, ShouldContainKey, "animals")
			So(rec.Fields, ShouldNotContainKey, KeyAttribute)
		})
	})
}

type fakeDynamo struct {
	items map[string]map[string]types.AttributeValue
	last  *dynamodb.UpdateItemInput
}

func (f *fakeDynamo) UpdateItem(ctx context.Context, in *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	f.last = in
	key := in.Key[KeyAttribute].(*types.AttributeValueMemberS).Value
	item, ok := f.items[key]
	if !ok {
		item = map[string]types.AttributeValue{KeyAttribute: in.Key[KeyAttribute]}
		f.items[key] = item
	}
	item[in.ExpressionAttributeNames["#f"]] = in.ExpressionAttributeValues[":g"]
	return &dynamodb.UpdateItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(ctx context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	key := in.Key[KeyAttribute].(*types.AttributeValueMemberS).Value
	return &dynamodb.GetItemOutput{Item: f.items[key]}, nil
}

func TestDynamoStore(t *testing.T) {
	api := &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
	store := NewDynamoStore(api)
	ctx := context.Background()

	if err := store.PutResults(ctx, "results", "photo", "animals", sampleEntries); err != nil {
		t.Fatalf("PutResults failed: %v", err)
	}
	if err := store.PutResults(ctx, "results", "photo", "vehicles", nil); err != nil {
		t.Fatalf("PutResults failed: %v", err)
	}

	if *api.last.UpdateExpression != "SET #f = :g" {
		t.Errorf("Unexpected update expression %q", *api.last.UpdateExpression)
	}
	if *api.last.TableName != "results" {
		t.Errorf("Unexpected table %q", *api.last.TableName)
	}

	rec, err := store.GetRecord(ctx, "results", "photo")
	if err != nil {
		t.Fatalf("GetRecord failed: %v", err)
	}
	if len(rec.Fields["animals"]) != 2 {
		t.Errorf("Expected 2 animal detections, got %d", len(rec.Fields["animals"]))
	}
	if entries, ok := rec.Fields["vehicles"]; !ok || len(entries) != 0 {
		t.Errorf("Expected empty vehicles field, got %v (present=%v)", entries, ok)
	}

	if _, err := store.GetRecord(ctx, "results", "missing"); !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Expected ErrRecordNotFound, got %v", err)
	}
}

func TestSQLStore(t *testing.T) {
	Convey("Given a SQLite record store", t, func() {
		db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "records.db"))
		So(err, ShouldBeNil)
		Reset(func() { db.Close() })

		store, err := NewSQLStore(db, DialectSQLite)
		So(err, ShouldBeNil)
		ctx := context.Background()

		Convey("Fields written separately are read back together", func() {
			So(store.PutResults(ctx, "results", "photo", "animals", sampleEntries), ShouldBeNil)
			So(store.PutResults(ctx, "results", "photo", "vehicles", nil), ShouldBeNil)

			rec, err := store.GetRecord(ctx, "results", "photo")
			So(err, ShouldBeNil)
			So(rec.ImageName, ShouldEqual, "photo")
			So(rec.Fields["animals"], ShouldResemble, sampleEntries)
			So(rec.Fields["vehicles"], ShouldBeEmpty)
		})

		Convey("Rewriting a field replaces its value", func() {
			So(store.PutResults(ctx, "results", "photo", "animals", sampleEntries), ShouldBeNil)
			So(store.PutResults(ctx, "results", "photo", "animals", sampleEntries[:1]), ShouldBeNil)

			rec, err := store.GetRecord(ctx, "results", "photo")
			So(err, ShouldBeNil)
			So(len(rec.Fields["animals"]), ShouldEqual, 1)
		})

		Convey("A missing image reports ErrRecordNotFound", func() {
			_, err := store.GetRecord(ctx, "results", "nothing")
			So(errors.Is(err, ErrRecordNotFound), ShouldBeTrue)
		})

		Convey("Table names must be identifiers", func() {
			err := store.PutResults(ctx, "results; DROP TABLE x", "photo", "animals", nil)
			So(errors.Is(err, ErrInvalidTable), ShouldBeTrue)
		})
	})

	Convey("Unknown dialects are rejected", t, func() {
		_, err := NewSQLStore(nil, "oracle")
		So(err, ShouldNotBeNil)
	})
}
