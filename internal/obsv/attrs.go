package obsv

import "go.opentelemetry.io/otel/attribute"

func jobIDAttr(jobID string) attribute.KeyValue    { return attribute.String("job.id", jobID) }
func jobClassAttr(class string) attribute.KeyValue { return attribute.String("job.class", class) }
