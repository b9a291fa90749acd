package printers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/openfroyo/managedmac/pkg/document"
)

// CatalogKey is the catalog keypath prefix under which printers are described.
const CatalogKey = "ManagedPrinters"

// DriverPrefix marks a PPDURL that names a driver already on the system.
const DriverPrefix = "drv:"

var validate = validator.New()

// Descriptor is the desired state of one print queue, as declared in a catalog.
type Descriptor struct {
	Name        string `validate:"required"`
	Model       string `validate:"required"`
	DeviceURI   string `validate:"required"`
	Location    string
	PPDURL      string `validate:"required"`
	LastUpdate  int64  `validate:"gte=0"`
	Description string
	PPDOptions  map[string]string
}

// CatalogKeyPath returns the catalog keypath of the named printer.
func CatalogKeyPath(name string) string {
	return CatalogKey + "." + name
}

// DescriptorFromNode decodes and validates a catalog entry. Description
// defaults to the printer name.
func DescriptorFromNode(name string, n document.Node) (*Descriptor, error) {
	if n.Kind() != document.KindMapping {
		return nil, fmt.Errorf("printer %s: catalog entry is a %s, expected a mapping", name, n.Kind())
	}

	str := func(key string) string {
		v, _ := n.Get(key)
		s, _ := v.String()
		return s
	}

	stamp, ok := n.Get("LastUpdate")
	if !ok {
		return nil, fmt.Errorf("printer %s: LastUpdate is required", name)
	}
	lastUpdate, ok := stamp.Int()
	if !ok {
		return nil, fmt.Errorf("printer %s: LastUpdate must be an integer", name)
	}

	d := &Descriptor{
		Name:        name,
		Model:       str("Model"),
		DeviceURI:   str("DeviceURI"),
		Location:    str("Location"),
		PPDURL:      str("PPDURL"),
		LastUpdate:  lastUpdate,
		Description: str("Description"),
	}
	if d.Description == "" {
		d.Description = name
	}
	if opts, ok := n.Get("PPDOptions"); ok {
		d.PPDOptions = opts.StringMap()
	}

	if err := validate.Struct(d); err != nil {
		return nil, fmt.Errorf("printer %s: invalid catalog entry: %w", name, err)
	}
	return d, nil
}

// IsDriverReference reports whether the PPD is referenced locally rather
// than downloaded.
func (d *Descriptor) IsDriverReference() bool {
	return strings.HasPrefix(d.PPDURL, DriverPrefix)
}

// PPDInfo holds the identifying fields of an installed PPD.
type PPDInfo struct {
	Manufacturer string
	ModelName    string
	NickName     string
}

// Matches reports whether either name field equals model.
func (p PPDInfo) Matches(model string) bool {
	return p.ModelName == model || p.NickName == model
}

var (
	ppdManufacturer = regexp.MustCompile(`(?m)^\*Manufacturer:[ \t]*"(.*)"`)
	ppdModelName    = regexp.MustCompile(`(?m)^\*ModelName:[ \t]*"(.*)"`)
	ppdNickName     = regexp.MustCompile(`(?m)^\*NickName:[ \t]*"(.*)"`)
)

// ParsePPD extracts the identifying fields of a PPD file. Missing fields
// are empty. When a model name is present, the manufacturer is prefixed
// to ModelName and NickName unless they already start with it.
func ParsePPD(data []byte) PPDInfo {
	first := func(re *regexp.Regexp) string {
		m := re.FindSubmatch(data)
		if m == nil {
			return ""
		}
		return string(m[1])
	}

	info := PPDInfo{
		Manufacturer: first(ppdManufacturer),
		ModelName:    first(ppdModelName),
		NickName:     first(ppdNickName),
	}

	if info.ModelName != "" {
		if !strings.HasPrefix(info.ModelName, info.Manufacturer) {
			info.ModelName = info.Manufacturer + " " + info.ModelName
		}
		if !strings.HasPrefix(info.NickName, info.Manufacturer) {
			info.NickName = info.Manufacturer + " " + info.NickName
		}
	}
	return info
}
