// Package broadcaster implements a background job that periodically
// stages new merged books in the outbox and publishes them to an
// external topic (Kafka, through sarama or kafka-go).
package broadcaster
