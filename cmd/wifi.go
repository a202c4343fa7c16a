// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/cistern/pkg/tanklink"
	"github.com/Thermoquad/cistern/pkg/tankproto"
)

var (
	wifiMode    string
	wifiSSID    string
	wifiIP      string
	wifiGateway string
	wifiSubnet  string
	wifiDNS     string
)

var wifiCmd = &cobra.Command{
	Use:   "wifi",
	Short: "Read or write the controller network configuration",
}

var wifiGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the controller network configuration",
	RunE:  runWiFiGet,
}

var wifiSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Write the controller network configuration",
	Long: `Send a new network configuration to the controller.

The password is read from the CISTERN_WIFI_PASSWORD environment variable, or
prompted interactively if not set. A --password flag is intentionally not
provided to avoid leaking credentials in shell history.

Examples:
  cistern wifi set --mode dhcp --ssid HomeNet
  cistern wifi set --mode static --ssid HomeNet --ip 192.168.1.40 \
    --gateway 192.168.1.1 --subnet 255.255.255.0 --dns 192.168.1.1`,
	RunE: runWiFiSet,
}

func init() {
	rootCmd.AddCommand(wifiCmd)
	wifiCmd.AddCommand(wifiGetCmd, wifiSetCmd)
	wifiSetCmd.Flags().StringVar(&wifiMode, "mode", string(tankproto.WiFiDHCP), "Network mode (dhcp, static, ap)")
	wifiSetCmd.Flags().StringVar(&wifiSSID, "ssid", "", "Network name")
	wifiSetCmd.Flags().StringVar(&wifiIP, "ip", "", "Static address")
	wifiSetCmd.Flags().StringVar(&wifiGateway, "gateway", "", "Gateway (static mode)")
	wifiSetCmd.Flags().StringVar(&wifiSubnet, "subnet", "", "Subnet mask (static mode)")
	wifiSetCmd.Flags().StringVar(&wifiDNS, "dns", "", "DNS server (static mode)")
}

func runWiFiGet(cmd *cobra.Command, args []string) error {
	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.SendCommand(tankproto.Command(tankproto.CmdGetWiFiConfig)); err != nil {
			return err
		}
		snap, ok := waitSnapshot(cmd.Context(), s, tankproto.LoadTimeout, func(snap tanklink.Snapshot) bool {
			return snap.State.WiFi != (tankproto.WiFiConfig{})
		})
		if !ok {
			fmt.Printf("No network configuration received\n")
			os.Exit(exitFailed)
		}

		w := snap.State.WiFi
		fmt.Printf("Mode:    %s\n", w.Mode)
		fmt.Printf("SSID:    %s\n", w.SSID)
		if w.Mode == tankproto.WiFiStatic {
			fmt.Printf("IP:      %s\n", netip.AddrFrom4(w.StaticIP))
			fmt.Printf("Gateway: %s\n", netip.AddrFrom4(w.Gateway))
			fmt.Printf("Subnet:  %s\n", netip.AddrFrom4(w.Subnet))
			fmt.Printf("DNS:     %s\n", netip.AddrFrom4(w.DNS))
		}
		return nil
	})
}

// buildWiFiConfig validates the flags into a configuration
func buildWiFiConfig(mode, ssid, password, ip, gateway, subnet, dns string) (tankproto.WiFiConfig, error) {
	c := tankproto.WiFiConfig{Mode: tankproto.WiFiMode(mode), SSID: ssid, Password: password}
	switch c.Mode {
	case tankproto.WiFiDHCP, tankproto.WiFiAP:
	case tankproto.WiFiStatic:
		for _, f := range []struct {
			name  string
			value string
			dst   *[4]byte
		}{
			{"ip", ip, &c.StaticIP},
			{"gateway", gateway, &c.Gateway},
			{"subnet", subnet, &c.Subnet},
			{"dns", dns, &c.DNS},
		} {
			addr, err := netip.ParseAddr(f.value)
			if err != nil || !addr.Is4() {
				return c, fmt.Errorf("invalid --%s %q: an IPv4 address is required in static mode", f.name, f.value)
			}
			*f.dst = addr.As4()
		}
	default:
		return c, fmt.Errorf("invalid mode %q (want dhcp, static or ap)", mode)
	}
	if c.SSID == "" {
		return c, fmt.Errorf("--ssid is required")
	}
	return c, nil
}

func runWiFiSet(cmd *cobra.Command, args []string) error {
	if _, err := buildWiFiConfig(wifiMode, wifiSSID, "", wifiIP, wifiGateway, wifiSubnet, wifiDNS); err != nil {
		return err
	}
	password, err := GetWiFiPassword()
	if err != nil {
		return err
	}
	config, err := buildWiFiConfig(wifiMode, wifiSSID, password, wifiIP, wifiGateway, wifiSubnet, wifiDNS)
	if err != nil {
		return err
	}

	return withSession(cmd.Context(), func(s *tanklink.Session) error {
		if err := s.SendCommand(tankproto.UpdateWiFiConfig(config)); err != nil {
			return err
		}
		fmt.Printf("Sent %s\n", tankproto.CmdUpdateWiFiConfig)

		// Give the controller a moment to acknowledge before the link closes
		time.Sleep(500 * time.Millisecond)
		return nil
	})
}
