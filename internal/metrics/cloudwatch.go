// Package metrics publishes invoice activity to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shopspring/decimal"

	"github.com/imrishuroy/go-invoice-service/internal/aws"
)

const (
	MetricInvoiceEvents = "InvoiceEvents"
	MetricInvoiceAmount = "InvoiceAmount"
)

// Recorder writes one count datapoint per processed event and, for
// created invoices, the billed amount.
type Recorder struct {
	client    aws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

func NewRecorder(client aws.CloudWatchAPI, namespace string) *Recorder {
	return &Recorder{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// RecordInvoiceEvent emits metrics for a single lifecycle event. eventType
// is used as the EventType dimension.
func (r *Recorder) RecordInvoiceEvent(ctx context.Context, eventType string, amount decimal.Decimal, withAmount bool) error {
	ts := r.nowFunc().UTC()
	dims := []cwtypes.Dimension{
		{Name: sdkaws.String("EventType"), Value: sdkaws.String(eventType)},
	}

	data := []cwtypes.MetricDatum{
		{
			MetricName: sdkaws.String(MetricInvoiceEvents),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(ts),
			Unit:       cwtypes.StandardUnitCount,
			Value:      sdkaws.Float64(1),
		},
	}
	if withAmount {
		v, _ := amount.Float64()
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(MetricInvoiceAmount),
			Dimensions: dims,
			Timestamp:  sdkaws.Time(ts),
			Unit:       cwtypes.StandardUnitNone,
			Value:      sdkaws.Float64(v),
		})
	}

	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
