package fdbfwd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

func interfaceByNameOrAlias(interfaceNameOrAlias string) (netlink.Link, error) {
	link, err := netlink.LinkByName(interfaceNameOrAlias)
	if err == nil {
		// found it by name, no need to faff about w/ checking aliases
		return link, nil
	}

	log.Debugf(
		"failed looking up interface %q by name, checking for this interface by alias...",
		interfaceNameOrAlias,
	)

	link, err = netlink.LinkByAlias(interfaceNameOrAlias)
	if err == nil {
		return link, nil
	}

	return nil, fmt.Errorf(
		"%w: could not find interface %q as interface name or as alias, err: %s",
		ErrBind,
		interfaceNameOrAlias,
		err,
	)
}

func interfaceIndex(interfaceNameOrAlias string) (int, error) {
	link, err := interfaceByNameOrAlias(interfaceNameOrAlias)
	if err != nil {
		return 0, err
	}

	return link.Attrs().Index, nil
}

// InterfaceIndex returns the ifindex of the interface with the given name or alias.
func InterfaceIndex(interfaceNameOrAlias string) (uint32, error) {
	idx, err := interfaceIndex(interfaceNameOrAlias)
	if err != nil {
		return 0, err
	}

	return uint32(idx), nil
}
