package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/elastic/go-elasticsearch/v8"

	variantEntity "lats.GO/model/entity/variant"
)

var (
	serviceInstance *Service
	serviceOnce     sync.Once
)

// GetService returns the singleton Service.
func GetService() *Service {
	serviceOnce.Do(func() {
		serviceInstance = NewService()
	})
	return serviceInstance
}

// Service indexes serialized units into Elasticsearch for IMEI/serial
// lookup. Optional: with no ELASTICSEARCH_HOST the service is inert and
// every call is a cheap no-op.
type Service struct {
	client *elasticsearch.Client
	index  string
}

func NewService() *Service {
	host := os.Getenv("ELASTICSEARCH_HOST")
	index := os.Getenv("ELASTICSEARCH_UNIT_INDEX")
	if index == "" {
		index = "lats_units"
	}
	if host == "" {
		return &Service{index: index}
	}

	cfg := elasticsearch.Config{
		Addresses: []string{host},
	}
	client, err := elasticsearch.NewClient(cfg)
	if err != nil {
		return &Service{index: index}
	}
	return &Service{client: client, index: index}
}

// Enabled reports whether a backing cluster is configured.
func (s *Service) Enabled() bool {
	return s.client != nil
}

type UnitDoc struct {
	UnitID          uint   `json:"unit_id"`
	ParentVariantID uint   `json:"parent_variant_id"`
	IMEI            string `json:"imei"`
	SerialNumber    string `json:"serial_number"`
	Status          string `json:"status"`
	Condition       string `json:"condition"`
}

// IndexUnit upserts one unit document. Best-effort: indexing failures are
// logged and never fail the intake or sale that triggered them.
func (s *Service) IndexUnit(ctx context.Context, v *variantEntity.Variant) {
	if s.client == nil {
		return
	}
	u, ok := v.AsUnit()
	if !ok {
		return
	}
	doc := UnitDoc{
		UnitID:          u.UnitID,
		ParentVariantID: u.ParentVariantID,
		IMEI:            u.IMEI,
		SerialNumber:    u.SerialNumber,
		Status:          string(u.Status),
		Condition:       u.Condition,
	}
	body, _ := json.Marshal(doc)
	res, err := s.client.Index(
		s.index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(fmt.Sprintf("%d", u.UnitID)),
	)
	if err != nil {
		log.Printf("search: index unit %s: %v", u.IMEI, err)
		return
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Printf("search: index unit %s: %s", u.IMEI, res.String())
	}
}

// SearchUnits matches IMEI and serial-number prefixes.
func (s *Service) SearchUnits(ctx context.Context, query string, size int) ([]UnitDoc, error) {
	if s.client == nil {
		return nil, fmt.Errorf("elasticsearch not configured")
	}
	if size <= 0 {
		size = 20
	}

	body := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"type":   "phrase_prefix",
				"fields": []string{"imei^2", "serial_number"},
			},
		},
	}
	bodyBytes, _ := json.Marshal(body)

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(s.index),
		s.client.Search.WithBody(bytes.NewReader(bodyBytes)),
	)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch error: %s", res.String())
	}

	var esResp struct {
		Hits struct {
			Hits []struct {
				Source UnitDoc `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResp); err != nil {
		return nil, err
	}
	out := make([]UnitDoc, 0, len(esResp.Hits.Hits))
	for _, h := range esResp.Hits.Hits {
		out = append(out, h.Source)
	}
	return out, nil
}
