package encoder

import (
	"reflect"
	"testing"

	"github.com/jittakal/kafcsvstore/pkg/lookup"
)

func TestColumnNames(t *testing.T) {
	paths, err := lookup.ParseAll([]string{
		"id",
		"data.items[0].sku",
		"data.items[-1].sku",
		"%kafka.offset",
		`headers."x-request.id"`,
		"@timestamp",
		"id",
		"id_2",
		"[0]",
		".",
		"%",
	})
	if err != nil {
		t.Fatalf("ParseAll() error = %v", err)
	}

	want := []string{
		"id",
		"data_items_0_sku",
		"data_items_last1_sku",
		"meta_kafka_offset",
		"headers_x_request_id",
		"_timestamp",
		"id_2",
		"id_2_2",
		"_0",
		"event",
		"meta",
	}

	if got := ColumnNames(paths); !reflect.DeepEqual(got, want) {
		t.Errorf("ColumnNames() = %v, want %v", got, want)
	}
}
