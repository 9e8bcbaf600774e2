package nodegroup

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// NamePrefix is prepended to every instance this process creates so that an
// instance can be mapped back to its group.
const NamePrefix = "tca"

// InstancePrefix returns the prefix shared by all instances of group id.
func InstancePrefix(id string) string {
	return fmt.Sprintf("%s-%s-", NamePrefix, id)
}

// NewNodeName returns a fresh, unique instance name for group id.
func NewNodeName(id string) string {
	suffix, _, _ := strings.Cut(uuid.NewString(), "-")
	return InstancePrefix(id) + suffix
}

// ProviderIDToName strips an optional URL-like scheme from a Kubernetes
// provider id ("externalgrpc://tca-x-1234" -> "tca-x-1234").
func ProviderIDToName(providerID string) string {
	if _, name, found := strings.Cut(providerID, "://"); found {
		return name
	}
	return providerID
}
