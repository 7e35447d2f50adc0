// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 moderation 提供内容审核门：对标准化后的图像评分，并与阈值比较，
决定图像能否被放行。

# 概述

审核门本身是纯函数：相同的图像、相同的阈值、确定性的评分器总是
得到相同的决定。评分的计算方式可插拔，内置 OpenAI Moderation API
适配，分数取各类别评分的最大值。

# 核心接口

  - Scorer：评分器接口，ScorerFunc 为函数适配器。
  - Gate：Evaluate(ctx, img, threshold) 返回 Decision。
  - Decision：Approved、Reason（放行时为空）、Score、Threshold。
  - OpenAIScorer：以 base64 data URL 提交图像，瞬时失败通过
    retry.Retryer 重试。

# 判定规则

  - 仅当 score < threshold 时放行，等于阈值视为拒绝。
  - 阈值不在 [0, 1] 内返回 INVALID_REQUEST。
  - 评分器出错或分数越界返回 SCORING_UNAVAILABLE。
  - 拒绝是数据而不是错误。
*/
package moderation
