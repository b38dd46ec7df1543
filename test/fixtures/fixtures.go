package fixtures

import (
	"time"

	"github.com/nicolu0/nexus-relay/internal/dispatcher"
	"github.com/nicolu0/nexus-relay/internal/model"
	"github.com/nicolu0/nexus-relay/internal/oracle"
)

const (
	LandlordPhone = "15550100100"
	VendorPhone   = "15550100200"
	RelayPhone    = "15550100300"
)

func NewInbound(deliveryID, from, body string) dispatcher.Inbound {
	return dispatcher.Inbound{
		DeliveryID: deliveryID,
		From:       from,
		To:         RelayPhone,
		Body:       body,
		ReceivedAt: time.Now(),
	}
}

func LandlordInbound(deliveryID, body string) dispatcher.Inbound {
	return NewInbound(deliveryID, LandlordPhone, body)
}

func VendorInbound(deliveryID, body string) dispatcher.Inbound {
	return NewInbound(deliveryID, VendorPhone, body)
}

func NewWorkOrder(emailID, summary string, status model.WorkOrderStatus) *model.WorkOrder {
	email := emailID
	return &model.WorkOrder{
		EmailID:       &email,
		Status:        status,
		LandlordPhone: LandlordPhone,
		VendorPhone:   VendorPhone,
		Summary:       summary,
	}
}

func UpsertRequest(emailID, summary string) model.WorkOrderUpsertRequest {
	return model.WorkOrderUpsertRequest{
		EmailID:       emailID,
		Status:        model.WorkOrderPending,
		LandlordPhone: LandlordPhone,
		VendorPhone:   VendorPhone,
		Summary:       summary,
	}
}

func Confirmation(workOrderID string, confidence float64) *oracle.Classification {
	id := workOrderID
	return &oracle.Classification{
		Category:            oracle.CategoryConfirmation,
		Confidence:          0.9,
		Reasoning:           "vendor accepted the job",
		WorkOrderID:         &id,
		WorkOrderConfidence: confidence,
	}
}

func Completion(workOrderID string, confidence float64) *oracle.Classification {
	id := workOrderID
	return &oracle.Classification{
		Category:            oracle.CategoryCompletion,
		Confidence:          0.9,
		Reasoning:           "vendor reported the job done",
		WorkOrderID:         &id,
		WorkOrderConfidence: confidence,
	}
}

func Unclassified() *oracle.Classification {
	return &oracle.Classification{
		Category:   oracle.CategoryOther,
		Confidence: 0,
		Reasoning:  "No match",
	}
}

var SampleVendorMessages = []string{
	"Yes, I can come by tomorrow at 9am",
	"Job's done, replaced the valve and tested it",
	"Running late, be there around noon",
}

var SampleLandlordMessages = []string{
	"Unit 4B reports the kitchen sink is leaking again",
	"Tenant says the heater makes a rattling noise",
}
