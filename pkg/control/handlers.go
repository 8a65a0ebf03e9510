package control

import (
	"context"
	"encoding/json"
	"time"

	"github.com/wasmcloud/wasmhost/pkg/configstore"
	"github.com/wasmcloud/wasmhost/pkg/log"
	"github.com/wasmcloud/wasmhost/pkg/ociauth"
	"github.com/wasmcloud/wasmhost/pkg/provider"
	"github.com/wasmcloud/wasmhost/pkg/wasmerr"
	"github.com/wasmcloud/wasmhost/pkg/wasmtypes"
)

type ackReply struct {
	Message string `json:"message,omitempty"`
}

type auctionRequest struct {
	ID          string            `json:"id"`
	Constraints map[string]string `json:"constraints"`
}

type auctionReply struct {
	HostID string `json:"host_id"`
}

func (s *Server) handleAuctionComponent(ctx context.Context, payload []byte) (any, bool, error) {
	var req auctionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode auction_component request")
	}
	if !s.components.Auction(req.ID, req.Constraints, s.labels.Snapshot()) {
		return nil, false, nil
	}
	return auctionReply{HostID: s.hostID}, true, nil
}

func (s *Server) handleAuctionProvider(ctx context.Context, payload []byte) (any, bool, error) {
	var req auctionRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode auction_provider request")
	}
	if !s.labels.Matches(req.Constraints) || s.providers.IsRunning(req.ID) {
		return nil, false, nil
	}
	return auctionReply{HostID: s.hostID}, true, nil
}

type pingReply struct {
	HostState wasmtypes.HostState `json:"host_state"`
}

func (s *Server) handlePingHosts(ctx context.Context, payload []byte) (any, bool, error) {
	return pingReply{HostState: wasmtypes.HostState{
		HostID:     s.hostID,
		Lattice:    s.latticeID,
		Labels:     s.labels.Snapshot(),
		StartTime:  s.startTime,
		Version:    s.config.Version,
		Ready:      s.Ready(),
		ReadyState: s.ReadyState(),
	}}, true, nil
}

type scaleComponentRequest struct {
	Instance wasmtypes.ComponentInstance `json:"instance"`
	Count    uint32                      `json:"count"`
}

func (s *Server) handleScaleComponent(ctx context.Context, payload []byte) (any, bool, error) {
	var req scaleComponentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode scale_component request")
	}
	if req.Instance.ComponentID == "" {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, nil, "component_id is required")
	}

	go func() {
		if err := s.components.Scale(context.Background(), req.Instance, req.Count); err != nil {
			log.WithComponent("control").Warn().Str("component_id", req.Instance.ComponentID).Err(err).Msg("scale_component failed")
		}
	}()
	return ackReply{}, true, nil
}

type updateComponentRequest struct {
	Instance wasmtypes.ComponentInstance `json:"instance"`
}

func (s *Server) handleUpdateComponent(ctx context.Context, payload []byte) (any, bool, error) {
	var req updateComponentRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode update_component request")
	}
	if req.Instance.ComponentID == "" {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, nil, "component_id is required")
	}

	go func() {
		if err := s.components.Update(context.Background(), req.Instance); err != nil {
			log.WithComponent("control").Warn().Str("component_id", req.Instance.ComponentID).Err(err).Msg("update_component failed")
		}
	}()
	return ackReply{}, true, nil
}

func (s *Server) handleStartProvider(ctx context.Context, payload []byte) (any, bool, error) {
	var spec provider.StartSpec
	if err := json.Unmarshal(payload, &spec); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode start_provider request")
	}
	if spec.ProviderID == "" {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, nil, "provider_id is required")
	}

	if s.providers.IsRunning(spec.ProviderID) {
		return ackReply{Message: "already running"}, true, nil
	}

	if spec.ClaimsToken != "" {
		if err := s.store.Put(ctx, configstore.BucketClaims, spec.ProviderID, []byte(spec.ClaimsToken)); err != nil {
			return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "persist provider claims")
		}
	}

	go func() {
		if err := s.providers.Start(context.Background(), spec); err != nil {
			log.WithComponent("control").Warn().Str("provider_id", spec.ProviderID).Err(err).Msg("start_provider failed")
		}
	}()
	return ackReply{}, true, nil
}

type stopProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

func (s *Server) handleStopProvider(ctx context.Context, payload []byte) (any, bool, error) {
	var req stopProviderRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode stop_provider request")
	}
	if err := s.providers.Stop(ctx, req.ProviderID); err != nil {
		return nil, false, err
	}
	return ackReply{}, true, nil
}

type stopHostRequest struct {
	TimeoutMillis int64 `json:"timeout_millis,omitempty"`
}

func (s *Server) handleStopHost(ctx context.Context, payload []byte) (any, bool, error) {
	var req stopHostRequest
	_ = json.Unmarshal(payload, &req)

	timeout := s.config.DefaultStopTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}

	s.mu.Lock()
	if s.readyState != wasmtypes.HostReady {
		s.mu.Unlock()
		return ackReply{Message: "already stopping"}, true, nil
	}
	deadline := time.Now().Add(timeout)
	s.readyState = wasmtypes.HostStopping
	s.stopDeadline = &deadline
	s.mu.Unlock()

	s.publishEvent(ctx, "host_stopped", s.hostID, map[string]any{"deadline": deadline})

	go s.drain(timeout)

	return ackReply{}, true, nil
}

func (s *Server) drain(timeout time.Duration) {
	drainCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.drainer != nil {
		if err := s.drainer.DrainAll(drainCtx); err != nil {
			log.WithComponent("control").Warn().Err(err).Msg("drain on stop_host did not complete cleanly")
		}
	}

	s.mu.Lock()
	s.readyState = wasmtypes.HostDrained
	s.mu.Unlock()
}

type inventoryReply struct {
	HostID     string                        `json:"host_id"`
	ReadyState wasmtypes.HostReadyState      `json:"ready_state"`
	Components []wasmtypes.ComponentInstance `json:"components"`
	Providers  []wasmtypes.ProviderInstance  `json:"providers"`
	Labels     map[string]string             `json:"labels"`
}

func (s *Server) handleInventory(ctx context.Context, payload []byte) (any, bool, error) {
	return inventoryReply{
		HostID:     s.hostID,
		ReadyState: s.ReadyState(),
		Components: s.components.List(),
		Providers:  s.providers.List(),
		Labels:     s.labels.Snapshot(),
	}, true, nil
}

type claimsReply struct {
	Claims map[string]string `json:"claims"`
}

func (s *Server) handleClaims(ctx context.Context, payload []byte) (any, bool, error) {
	keys, err := s.store.Keys(ctx, configstore.BucketClaims)
	if err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "list claims")
	}
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		value, err := s.store.Get(ctx, configstore.BucketClaims, key)
		if err != nil {
			continue
		}
		out[key] = string(value)
	}
	return claimsReply{Claims: out}, true, nil
}

type linksReply struct {
	Links []wasmtypes.LinkDefinition `json:"links"`
}

func (s *Server) handleLinks(ctx context.Context, payload []byte) (any, bool, error) {
	sourceIDs, err := s.store.Keys(ctx, configstore.BucketLinks)
	if err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "list link specs")
	}

	var links []wasmtypes.LinkDefinition
	for _, sourceID := range sourceIDs {
		spec, ok, err := s.loadSpec(ctx, sourceID)
		if err != nil || !ok {
			continue
		}
		links = append(links, spec.Links...)
	}
	return linksReply{Links: links}, true, nil
}

type configGetRequest struct {
	Key string `json:"key"`
}

type configValueReply struct {
	Value []byte `json:"value"`
}

func (s *Server) handleConfigGet(ctx context.Context, payload []byte) (any, bool, error) {
	var req configGetRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode config_get request")
	}
	value, err := s.store.Get(ctx, configstore.BucketConfig, req.Key)
	if err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "config_get")
	}
	return configValueReply{Value: value}, true, nil
}

type configPutRequest struct {
	Key   string `json:"key"`
	Value []byte `json:"value"`
}

func (s *Server) handleConfigPut(ctx context.Context, payload []byte) (any, bool, error) {
	var req configPutRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode config_put request")
	}
	if req.Key == "" {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, nil, "key is required")
	}
	if err := s.store.Put(ctx, configstore.BucketConfig, req.Key, req.Value); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "config_put")
	}
	s.publishEvent(ctx, "config_set", req.Key, nil)
	return ackReply{}, true, nil
}

type configDeleteRequest struct {
	Key string `json:"key"`
}

func (s *Server) handleConfigDelete(ctx context.Context, payload []byte) (any, bool, error) {
	var req configDeleteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode config_delete request")
	}
	if err := s.store.Delete(ctx, configstore.BucketConfig, req.Key); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "config_delete")
	}
	s.publishEvent(ctx, "config_deleted", req.Key, nil)
	return ackReply{}, true, nil
}

type labelRequest struct {
	Key   string `json:"key"`
	Value string `json:"value,omitempty"`
}

func (s *Server) handleLabelPut(ctx context.Context, payload []byte) (any, bool, error) {
	var req labelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode label_put request")
	}
	if err := s.labels.Put(req.Key, req.Value); err != nil {
		return nil, false, err
	}
	s.publishEvent(ctx, "labels_changed", req.Key, s.labels.Snapshot())
	return ackReply{}, true, nil
}

func (s *Server) handleLabelDelete(ctx context.Context, payload []byte) (any, bool, error) {
	var req labelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode label_delete request")
	}
	if err := s.labels.Delete(req.Key); err != nil {
		return nil, false, err
	}
	s.publishEvent(ctx, "labels_changed", req.Key, s.labels.Snapshot())
	return ackReply{}, true, nil
}

type linkPutRequest struct {
	Link wasmtypes.LinkDefinition `json:"link"`
}

func (s *Server) loadSpec(ctx context.Context, sourceID string) (wasmtypes.ComponentSpec, bool, error) {
	raw, err := s.store.Get(ctx, configstore.BucketLinks, sourceID)
	if err != nil {
		// Buckets report a missing key as an error; only an absent key means "no spec yet".
		keys, keysErr := s.store.Keys(ctx, configstore.BucketLinks)
		if keysErr != nil {
			return wasmtypes.ComponentSpec{}, false, err
		}
		for _, k := range keys {
			if k == sourceID {
				return wasmtypes.ComponentSpec{}, false, err
			}
		}
		raw = nil
	}
	if raw == nil {
		return wasmtypes.ComponentSpec{SourceID: sourceID}, true, nil
	}
	var spec wasmtypes.ComponentSpec
	if err := json.Unmarshal(raw, &spec); err != nil {
		return wasmtypes.ComponentSpec{}, false, err
	}
	return spec, true, nil
}

func (s *Server) saveSpec(ctx context.Context, spec wasmtypes.ComponentSpec) error {
	data, err := json.Marshal(spec)
	if err != nil {
		return err
	}
	return s.store.Put(ctx, configstore.BucketLinks, spec.SourceID, data)
}

func (s *Server) handleLinkPut(ctx context.Context, payload []byte) (any, bool, error) {
	var req linkPutRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode link_put request")
	}
	link := req.Link
	if link.SourceID == "" || link.WitNamespace == "" || link.WitPackage == "" || len(link.Interfaces) == 0 {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, nil, "link requires source_id, wit_namespace, wit_package, and at least one interface")
	}
	if link.LinkName == "" {
		link.LinkName = wasmtypes.DefaultLinkName
	}

	spec, _, err := s.loadSpec(ctx, link.SourceID)
	if err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "load link spec")
	}
	spec.SourceID = link.SourceID

	key := link.PrimaryKey()
	replaced := false
	for i, existing := range spec.Links {
		if existing.PrimaryKey() != key {
			continue
		}
		if existing.Target == link.Target {
			spec.Links[i] = link
			replaced = true
			break
		}
		if existing.Overlaps(link) {
			return nil, false, wasmerr.Wrapf(wasmerr.Conflict, nil,
				"link %s/%s:%s/%s already targets %q; delete it first or use a different link_name",
				link.SourceID, link.WitNamespace, link.WitPackage, key.LinkName, existing.Target)
		}
	}
	if !replaced {
		spec.Links = append(spec.Links, link)
	}

	if err := s.saveSpec(ctx, spec); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "save link spec")
	}
	s.links.ApplySpec(link.SourceID, spec)
	s.publishEvent(ctx, "linkdef_set", link.SourceID, link)
	return ackReply{}, true, nil
}

type linkDelRequest struct {
	SourceID     string `json:"source_id"`
	WitNamespace string `json:"wit_namespace"`
	WitPackage   string `json:"wit_package"`
	LinkName     string `json:"link_name,omitempty"`
}

func (s *Server) handleLinkDel(ctx context.Context, payload []byte) (any, bool, error) {
	var req linkDelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode link_del request")
	}
	linkName := req.LinkName
	if linkName == "" {
		linkName = wasmtypes.DefaultLinkName
	}
	key := wasmtypes.LinkKey{SourceID: req.SourceID, WitNamespace: req.WitNamespace, WitPackage: req.WitPackage, LinkName: linkName}

	spec, ok, err := s.loadSpec(ctx, req.SourceID)
	if err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "load link spec")
	}
	if !ok {
		return ackReply{}, true, nil
	}

	kept := spec.Links[:0]
	for _, existing := range spec.Links {
		if existing.PrimaryKey() == key {
			continue
		}
		kept = append(kept, existing)
	}
	spec.Links = kept

	if err := s.saveSpec(ctx, spec); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Unavailable, err, "save link spec")
	}
	s.links.ApplySpec(req.SourceID, spec)
	s.publishEvent(ctx, "linkdef_deleted", req.SourceID, key)
	return ackReply{}, true, nil
}

type registriesPutRequest struct {
	Registries map[string]ociauth.RegistryCreds `json:"registries"`
}

func (s *Server) handleRegistriesPut(ctx context.Context, payload []byte) (any, bool, error) {
	var req registriesPutRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Validation, err, "decode registries_put request")
	}
	if err := s.registries.Merge(req.Registries); err != nil {
		return nil, false, wasmerr.Wrap(wasmerr.Internal, err, "merge registry credentials")
	}
	return ackReply{}, true, nil
}
