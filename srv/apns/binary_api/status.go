/*
 * Copyright 2011-2013 Nan Deng
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package binary_api

import "fmt"

// Status is the status byte of an error-response frame.
type Status uint8

// Status codes for the binary API
const (
	Status0Success            Status = 0
	Status1ProcessingError    Status = 1
	Status2MissingDeviceToken Status = 2
	Status3MissingTopic       Status = 3
	Status4MissingPayload     Status = 4
	Status5InvalidTokenSize   Status = 5
	Status6InvalidTopicSize   Status = 6
	Status7InvalidPayloadSize Status = 7
	Status8InvalidToken       Status = 8
	Status10Shutdown          Status = 10
	Status255Unknown          Status = 255
)

var statusReasons = map[Status]string{
	Status0Success:            "No errors encountered",
	Status1ProcessingError:    "Processing error",
	Status2MissingDeviceToken: "Missing device token",
	Status3MissingTopic:       "Missing topic",
	Status4MissingPayload:     "Missing payload",
	Status5InvalidTokenSize:   "Invalid token size",
	Status6InvalidTopicSize:   "Invalid topic size",
	Status7InvalidPayloadSize: "Invalid payload size",
	Status8InvalidToken:       "Invalid token",
	Status10Shutdown:          "Shutdown",
	Status255Unknown:          "None (unknown)",
}

// Reason returns the human readable description Apple documents for the status.
func (s Status) Reason() string {
	if r, ok := statusReasons[s]; ok {
		return r
	}
	return fmt.Sprintf("Unrecognized status %d", uint8(s))
}

func (s Status) String() string {
	return fmt.Sprintf("%d (%s)", uint8(s), s.Reason())
}

// IsTokenError reports whether the status blames the device token of the identified frame.
// The gateway drops the connection afterwards, but the notifications that follow are still deliverable.
func (s Status) IsTokenError() bool {
	switch s {
	case Status2MissingDeviceToken, Status5InvalidTokenSize, Status8InvalidToken:
		return true
	}
	return false
}

// IsShutdown reports whether the gateway closed the connection for maintenance.
// The identifier of a shutdown frame is the last notification that was processed successfully.
func (s Status) IsShutdown() bool {
	return s == Status10Shutdown
}
