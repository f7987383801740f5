// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

// Package kafka provides an airlift.Source consuming JSON rows from kafka
// topics.
package kafka

import (
	"encoding/json"
	"io"
	"io/ioutil"
	"log"

	"github.com/Shopify/sarama"
	cluster "github.com/bsm/sarama-cluster"
	"github.com/pkg/errors"

	"github.com/airlifthq/airlift"
)

// Source implements airlift.Source using kafka. Each message value is a JSON
// object which becomes one row; keys are the object's field names. Offsets
// are marked as each message is returned, so a restarted consumer group picks
// up roughly where it left off.
type Source struct {
	Hosts   []string
	Topics  []string
	Group   string
	MaxMsgs int
	numMsgs int

	consumer *cluster.Consumer
	log      airlift.Logger
}

// NewSource gets a new Source with default connection settings. Call Open
// before the first Record.
func NewSource() *Source {
	return &Source{
		Hosts:  []string{"localhost:9092"},
		Topics: []string{"test"},
		Group:  "group0",
		log:    airlift.NopLogger{},
	}
}

// SetLogger sets the logger used for consumer errors and rebalances.
func (s *Source) SetLogger(l airlift.Logger) {
	if l != nil {
		s.log = l
	}
}

// Open initializes the kafka consumer.
func (s *Source) Open() error {
	sarama.Logger = log.New(ioutil.Discard, "", 0)
	config := cluster.NewConfig()
	config.Config.Version = sarama.V0_10_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Group.Return.Notifications = true

	var err error
	s.consumer, err = cluster.NewConsumer(s.Hosts, s.Group, s.Topics, config)
	if err != nil {
		return errors.Wrap(err, "getting new consumer")
	}

	go func() {
		for err := range s.consumer.Errors() {
			s.log.Printf("kafka consumer error: %v", err)
		}
	}()
	go func() {
		for ntf := range s.consumer.Notifications() {
			s.log.Debugf("kafka rebalanced: %+v", ntf)
		}
	}()
	return nil
}

// Record returns the next kafka message as a row. When MaxMsgs is set, the
// source reports io.EOF after returning that many messages, which turns an
// endless topic into a finite integration run.
func (s *Source) Record() (airlift.Row, error) {
	if s.MaxMsgs > 0 {
		s.numMsgs++
		if s.numMsgs > s.MaxMsgs {
			return nil, io.EOF
		}
	}
	msg, ok := <-s.consumer.Messages()
	if !ok {
		return nil, io.EOF
	}
	row := make(airlift.Row)
	if err := json.Unmarshal(msg.Value, &row); err != nil {
		return nil, errors.Wrap(err, "unmarshaling json message")
	}
	s.consumer.MarkOffset(msg, "") // mark message as processed
	return row, nil
}

// Close closes the underlying kafka consumer.
func (s *Source) Close() error {
	err := s.consumer.Close()
	return errors.Wrap(err, "closing kafka consumer")
}
