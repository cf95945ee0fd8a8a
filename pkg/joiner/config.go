package joiner

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/mash-protocol/meshcop-go/pkg/errcode"
)

// PolicyFile is the YAML form of a joiner policy:
//
//	joiners:
//	  - type: eui64
//	    eui64: "00:11:22:33:44:55:66:77"
//	    pskd: J01NME
//	  - type: discerner
//	    discerner: {value: "0x5", bit_length: 3}
//	    pskd: J01NU5
//	  - type: any
//	    pskd: J01NALL
//	    provisioning_url: https://example.com/provision
type PolicyFile struct {
	Joiners []JoinerEntry `yaml:"joiners"`
}

// JoinerEntry is one joiner in a PolicyFile.
type JoinerEntry struct {
	Type            string          `yaml:"type"`
	Eui64           string          `yaml:"eui64,omitempty"`
	Discerner       *DiscernerEntry `yaml:"discerner,omitempty"`
	PSKd            string          `yaml:"pskd,omitempty"`
	ProvisioningURL string          `yaml:"provisioning_url,omitempty"`
}

// DiscernerEntry is the YAML form of a Discerner. Value accepts decimal or
// 0x-prefixed hex.
type DiscernerEntry struct {
	Value     string `yaml:"value"`
	BitLength uint8  `yaml:"bit_length"`
}

// Info converts the entry. The result is not validated.
func (e JoinerEntry) Info() (Info, error) {
	t, err := ParseType(e.Type)
	if err != nil {
		return Info{}, err
	}
	info := Info{
		Type:            t,
		PSKd:            e.PSKd,
		ProvisioningURL: e.ProvisioningURL,
	}
	if e.Eui64 != "" {
		if info.Eui64, err = ParseEui64(e.Eui64); err != nil {
			return Info{}, err
		}
	}
	if e.Discerner != nil {
		v, err := strconv.ParseUint(e.Discerner.Value, 0, 64)
		if err != nil {
			return Info{}, errcode.Wrap(errcode.InvalidArgs, ErrInvalidDiscerner, "parse value %q", e.Discerner.Value)
		}
		info.Discerner = Discerner{Value: v, BitLength: e.Discerner.BitLength}
	}
	return info, nil
}

// EntryOf converts info to its YAML form.
func EntryOf(info Info) JoinerEntry {
	e := JoinerEntry{
		Type:            info.Type.String(),
		PSKd:            info.PSKd,
		ProvisioningURL: info.ProvisioningURL,
	}
	if info.Eui64 != 0 {
		e.Eui64 = FormatEui64(info.Eui64)
	}
	if info.Type == TypeDiscerner {
		e.Discerner = &DiscernerEntry{
			Value:     fmt.Sprintf("0x%x", info.Discerner.Value),
			BitLength: info.Discerner.BitLength,
		}
	}
	return e
}

// ParseEui64 parses 16 hex digits, optionally separated by ':' or '-'.
func ParseEui64(s string) (uint64, error) {
	digits := strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s))
	digits = strings.TrimPrefix(strings.ToLower(digits), "0x")
	if len(digits) != 16 {
		return 0, errcode.Wrap(errcode.InvalidArgs, ErrMissingEui64, "parse %q", s)
	}
	v, err := strconv.ParseUint(digits, 16, 64)
	if err != nil {
		return 0, errcode.Wrap(errcode.InvalidArgs, ErrMissingEui64, "parse %q", s)
	}
	return v, nil
}

// FormatEui64 returns the colon-separated hex form of an EUI-64.
func FormatEui64(v uint64) string {
	var sb strings.Builder
	for i := 7; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", byte(v>>(8*i)))
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	return sb.String()
}

// ParsePolicy decodes a YAML policy file and admits every joiner in it.
func ParsePolicy(data []byte, opts ...PolicyOption) (*Policy, error) {
	var f PolicyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errcode.Wrap(errcode.BadFormat, err, "parse joiner policy")
	}

	p := NewPolicy(opts...)
	for i, e := range f.Joiners {
		info, err := e.Info()
		if err != nil {
			return nil, fmt.Errorf("joiner %d: %w", i, err)
		}
		if err := p.Add(info); err != nil {
			return nil, fmt.Errorf("joiner %d: %w", i, err)
		}
	}
	return p, nil
}

// LoadPolicy reads and parses a YAML policy file.
func LoadPolicy(path string, opts ...PolicyOption) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read joiner policy: %w", err)
	}
	p, err := ParsePolicy(data, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// MarshalPolicy encodes the entries of p as YAML.
func MarshalPolicy(p *Policy) ([]byte, error) {
	var f PolicyFile
	for _, info := range p.Joiners() {
		f.Joiners = append(f.Joiners, EntryOf(info))
	}
	data, err := yaml.Marshal(&f)
	if err != nil {
		return nil, errcode.Wrap(errcode.EncodingFailed, err, "encode joiner policy")
	}
	return data, nil
}
