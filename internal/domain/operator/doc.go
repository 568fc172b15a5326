// Package operator validates operator identification numbers.
//
// An operator ID is a three-digit number mnl in [16, 894] where m is even,
// n is odd and l = (n + 5) mod 10. IDs are keyed over DTMF as a prefix tone
// followed by the three digits; Evaluate judges such input incrementally so a
// wait can end as soon as the entry is decided.
package operator
