package metrics

import "go.opentelemetry.io/otel/attribute"

func attrShard(shard string) attribute.KeyValue  { return attribute.String("shard", shard) }
func attrOp(op string) attribute.KeyValue        { return attribute.String("op", op) }
func attrResult(result string) attribute.KeyValue { return attribute.String("result", result) }
