// Package bluez implements radio.Transport over the BlueZ D-Bus API
// (org.bluez on the system bus).
//
// Scanning uses Adapter1 discovery with an LE transport filter and polls the
// object manager for Device1 objects. Notifications are GattCharacteristic1
// StartNotify subscriptions observed as PropertiesChanged signals. Writes
// use WriteValue with type "command" (write without response).
package bluez
