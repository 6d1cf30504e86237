// Package demoagent is a scripted stand-in for the remote sample_agent.
//
// It answers POSTed RunAgentInput payloads with an AG-UI event stream and
// reproduces the observable behavior the demo page relies on:
//
//   - messages mentioning 天气 or weather append an in-progress record to
//     search_history and raise an on_interrupt approval request for
//     get_weather
//   - resuming with approve emits the get_weather tool call and its fake
//     result, then marks the record completed with a state delta
//   - resuming with reject replies 工具调用被用户拒绝执行。
//   - messages mentioning 问好 or hello call the frontend sayHello action
//   - anything else is echoed back
//
// Pending approvals are kept per thread ID in memory.
package demoagent
