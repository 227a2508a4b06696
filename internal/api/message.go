package api

import (
	"fmt"
	"net/netip"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/yanet-platform/neighd/internal/neigh"
	"github.com/yanet-platform/neighd/internal/topology"
)

// Entry is the diagnostic view of a neighbour entry.
type Entry struct {
	Scope        topology.Scope
	Addr         netip.Addr
	State        string
	LinkAddr     *topology.MAC
	Port         topology.Port
	Retries      int
	Age          time.Duration
	NextActionAt time.Time
}

func entryFromInfo(info neigh.Info) Entry {
	entry := Entry{
		Scope:        info.Key.Scope,
		Addr:         info.Key.Addr,
		State:        info.State.String(),
		Retries:      info.Retries,
		Age:          info.Age,
		NextActionAt: info.NextActionAt,
	}
	if info.Target != nil {
		mac := info.Target.LinkAddr
		entry.LinkAddr = &mac
		entry.Port = info.Target.Port
	}

	return entry
}

func (m *Entry) asMap() map[string]any {
	v := map[string]any{
		"vlan":      int(m.Scope.VLAN),
		"interface": m.Scope.Interface,
		"addr":      m.Addr.String(),
		"state":     m.State,
		"retries":   m.Retries,
		"age":       m.Age.String(),
	}
	if m.LinkAddr != nil {
		v["link_addr"] = m.LinkAddr.String()
		v["port"] = int64(m.Port)
	}
	if !m.NextActionAt.IsZero() {
		v["next_action_at"] = m.NextActionAt.UTC().Format(time.RFC3339Nano)
	}

	return v
}

func entryFromStruct(s *structpb.Struct) (Entry, error) {
	scope := scopeFromStruct(s)

	addr, err := netip.ParseAddr(stringField(s, "addr"))
	if err != nil {
		return Entry{}, fmt.Errorf("invalid entry address: %w", err)
	}

	entry := Entry{
		Scope:   scope,
		Addr:    addr,
		State:   stringField(s, "state"),
		Retries: int(numberField(s, "retries")),
	}

	if age := stringField(s, "age"); age != "" {
		if entry.Age, err = time.ParseDuration(age); err != nil {
			return Entry{}, fmt.Errorf("invalid entry age: %w", err)
		}
	}
	if at := stringField(s, "next_action_at"); at != "" {
		if entry.NextActionAt, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return Entry{}, fmt.Errorf("invalid entry deadline: %w", err)
		}
	}
	if linkAddr := stringField(s, "link_addr"); linkAddr != "" {
		mac, err := topology.ParseMAC(linkAddr)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid entry link address: %w", err)
		}
		entry.LinkAddr = &mac
		entry.Port = topology.Port(numberField(s, "port"))
	}

	return entry, nil
}

// request is the common set of request fields.
type request struct {
	Scope *topology.Scope
	Addr  netip.Addr
	Wait  bool
}

func (m *request) asStruct() (*structpb.Struct, error) {
	v := map[string]any{}
	if m.Scope != nil {
		v["vlan"] = int(m.Scope.VLAN)
		v["interface"] = m.Scope.Interface
	}
	if m.Addr.IsValid() {
		v["addr"] = m.Addr.String()
	}
	if m.Wait {
		v["wait"] = true
	}

	return structpb.NewStruct(v)
}

func requestFromStruct(s *structpb.Struct) (request, error) {
	req := request{
		Wait: s.GetFields()["wait"].GetBoolValue(),
	}

	if _, ok := s.GetFields()["interface"]; ok {
		scope := scopeFromStruct(s)
		req.Scope = &scope
	}

	if addr := stringField(s, "addr"); addr != "" {
		parsed, err := netip.ParseAddr(addr)
		if err != nil {
			return request{}, fmt.Errorf("%w: %q", neigh.ErrInvalidAddress, addr)
		}
		req.Addr = parsed
	}

	return req, nil
}

func scopeFromStruct(s *structpb.Struct) topology.Scope {
	return topology.Scope{
		VLAN:      uint16(numberField(s, "vlan")),
		Interface: int(numberField(s, "interface")),
	}
}

func stringField(s *structpb.Struct, name string) string {
	return s.GetFields()[name].GetStringValue()
}

func numberField(s *structpb.Struct, name string) float64 {
	return s.GetFields()[name].GetNumberValue()
}
