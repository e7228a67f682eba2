package server

// fanOut queues data to every target except origin without blocking and
// returns the targets whose queues were full.
func fanOut(targets []*Client, origin *Client, data []byte) []*Client {
	var stalled []*Client
	for _, c := range targets {
		if c == origin {
			continue
		}

		if !c.queueMessage(data) {
			stalled = append(stalled, c)
		}
	}
	return stalled
}
